package core

import (
	"errors"
	"fmt"
	"strings"
)

type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
	TestEnv        Environment = "test"
)

var ErrUnknownEnvironment = errors.New("unknown environment")

// ParseEnvironment accepts the environment names given on the command line or in the config file.
func ParseEnvironment(value string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(value)))

	switch env {
	case DevelopmentEnv, ProductionEnv, TestEnv:
		return env, nil
	case "":
		return DevelopmentEnv, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, value)
	}
}

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}

func (e Environment) IsTest() bool {
	return e == TestEnv
}
