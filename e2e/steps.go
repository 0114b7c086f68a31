package e2e

import (
	"github.com/cucumber/godog"

	"caredrop/e2e/steps/common"
	"caredrop/e2e/steps/donation"
	"caredrop/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register campaign, claim, and redemption steps
	donation.RegisterSteps(ctx, tc)

	// Register redeem throttling steps
	ratelimit.RegisterSteps(ctx, tc)
}
