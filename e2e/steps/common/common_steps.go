package common

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	As(actorName, method, path string, body any) error
	Do(method, path string, body any, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers generic request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^I call (GET|POST) "([^"]*)" without authentication$`, steps.callWithoutAuth)
	ctx.Step(`^I call (GET|POST) "([^"]*)" with token "([^"]*)"$`, steps.callWithToken)
	ctx.Step(`^"([^"]*)" calls (GET|POST) "([^"]*)"$`, steps.actorCalls)

	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the error code should be "([^"]*)"$`, steps.errorCodeShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldEqualString)
	ctx.Step(`^the response field "([^"]*)" should be (\d+)$`, steps.fieldShouldEqualNumber)
	ctx.Step(`^the response should not contain "([^"]*)"$`, steps.responseShouldNotContain)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) callWithoutAuth(ctx context.Context, method, path string) error {
	return s.tc.Do(method, path, nil, nil)
}

func (s *commonSteps) callWithToken(ctx context.Context, method, path, token string) error {
	return s.tc.Do(method, path, nil, map[string]string{"Authorization": "Bearer " + token})
}

func (s *commonSteps) actorCalls(ctx context.Context, actorName, method, path string) error {
	return s.tc.As(actorName, method, path, nil)
}

func (s *commonSteps) responseStatusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) errorCodeShouldBe(ctx context.Context, code string) error {
	return s.fieldShouldEqualString(ctx, "error", code)
}

func (s *commonSteps) fieldShouldEqualString(ctx context.Context, field, expected string) error {
	value, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(value); got != expected {
		return fmt.Errorf("expected %s to be %q, got %q", field, expected, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldEqualNumber(ctx context.Context, field string, expected int) error {
	value, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	number, ok := value.(float64)
	if !ok {
		return fmt.Errorf("expected %s to be a number, got %T", field, value)
	}
	if int(number) != expected {
		return fmt.Errorf("expected %s to be %d, got %s", field, expected, strconv.FormatFloat(number, 'f', -1, 64))
	}
	return nil
}

func (s *commonSteps) responseShouldNotContain(ctx context.Context, text string) error {
	if strings.Contains(string(s.tc.GetLastResponseBody()), text) {
		return fmt.Errorf("response unexpectedly contains %q: %s", text, s.tc.GetLastResponseBody())
	}
	return nil
}
