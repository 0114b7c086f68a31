package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	As(actorName, method, path string, body any) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	SavedToken() string
}

// RegisterSteps registers redeem throttling step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^"([^"]*)" presents (\d+) unknown tokens$`, steps.presentUnknownTokens)
	ctx.Step(`^the (\d+)(?:st|nd|rd|th) attempt should return (\d+)$`, steps.nthAttemptShouldReturn)
	ctx.Step(`^"([^"]*)" presents the saved token (\d+) times$`, steps.presentSavedTokenTimes)
	ctx.Step(`^every attempt after the first should return (\d+)$`, steps.everyAttemptAfterFirstShouldReturn)
}

type ratelimitSteps struct {
	tc TestContext
	// statuses of the attempts made by the last presenting step
	statuses []int
}

func (s *ratelimitSteps) presentUnknownTokens(ctx context.Context, business string, n int) error {
	s.statuses = s.statuses[:0]
	for range n {
		if err := s.tc.As(business, http.MethodPost, "/redeem", map[string]any{"token": uuid.NewString()}); err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *ratelimitSteps) presentSavedTokenTimes(ctx context.Context, business string, n int) error {
	s.statuses = s.statuses[:0]
	for range n {
		if err := s.tc.As(business, http.MethodPost, "/redeem", map[string]any{"token": s.tc.SavedToken()}); err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *ratelimitSteps) nthAttemptShouldReturn(ctx context.Context, n, expectedStatus int) error {
	if n < 1 || n > len(s.statuses) {
		return fmt.Errorf("only %d attempts were made", len(s.statuses))
	}
	if got := s.statuses[n-1]; got != expectedStatus {
		return fmt.Errorf("attempt %d: expected status %d, got %d", n, expectedStatus, got)
	}
	return nil
}

func (s *ratelimitSteps) everyAttemptAfterFirstShouldReturn(ctx context.Context, expectedStatus int) error {
	for i, got := range s.statuses[1:] {
		if got != expectedStatus {
			return fmt.Errorf("attempt %d: expected status %d, got %d", i+2, expectedStatus, got)
		}
	}
	return nil
}
