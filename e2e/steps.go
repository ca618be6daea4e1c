package e2e

import (
	"github.com/cucumber/godog"

	"rotaclock/e2e/steps/clock"
	"rotaclock/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	clock.RegisterSteps(ctx, tc)
}
