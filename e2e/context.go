package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"

	"caredrop/internal/app"
	"caredrop/internal/donation/models"
	jwttoken "caredrop/internal/jwt_token"
	"caredrop/internal/platform/config"
	id "caredrop/pkg/domain"
	"caredrop/pkg/requestcontext"
)

const signingKey = "e2e-signing-key"

// RedeemMaxFailures is the unknown-token budget per business in scenarios.
const RedeemMaxFailures = 3

type actor struct {
	id   uuid.UUID
	role requestcontext.Role
}

// TestContext carries one scenario's server and the state steps share.
type TestContext struct {
	app    *app.App
	server *httptest.Server
	jwt    *jwttoken.JWTService

	actors   map[string]actor
	agencies map[string]id.AgencyID

	lastStatus int
	lastBody   []byte
	savedToken string
}

func NewTestContext() *TestContext {
	return &TestContext{jwt: jwttoken.NewJWTService(signingKey, "caredrop")}
}

// Reset starts a fresh in-memory server for the next scenario.
func (tc *TestContext) Reset(ctx context.Context) error {
	tc.Close()
	wired, err := app.Build(ctx, config.Server{
		JWTSigningKey: signingKey,
		JWTIssuer:     "caredrop",
		Donation: config.DonationConfig{
			AllocationLockTTL:   30 * time.Second,
			RedeemMaxFailures:   RedeemMaxFailures,
			RedeemFailureWindow: time.Minute,
			CampaignCacheSize:   64,
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	tc.app = wired
	tc.server = httptest.NewServer(wired.Router)
	tc.actors = map[string]actor{}
	tc.agencies = map[string]id.AgencyID{}
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.savedToken = ""
	return nil
}

func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
	if tc.app != nil {
		tc.app.Close()
		tc.app = nil
	}
}

// RegisterActor names a caller; the same name always maps to the same account.
func (tc *TestContext) RegisterActor(name string, role requestcontext.Role) uuid.UUID {
	if a, ok := tc.actors[name]; ok {
		return a.id
	}
	a := actor{id: uuid.New(), role: role}
	tc.actors[name] = a
	return a.id
}

func (tc *TestContext) CreateAgency(ctx context.Context, name string, rosterNames []string) error {
	agency := &models.Agency{ID: id.AgencyID(uuid.New()), Name: name}
	if err := tc.app.Store.CreateAgency(ctx, agency); err != nil {
		return err
	}
	tc.agencies[name] = agency.ID
	for _, fullName := range rosterNames {
		entry := &models.RosterEntry{ID: id.RosterEntryID(uuid.New()), AgencyID: agency.ID, FullName: fullName}
		if err := tc.app.Store.CreateRosterEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) AgencyID(name string) (string, error) {
	agencyID, ok := tc.agencies[name]
	if !ok {
		return "", fmt.Errorf("unknown agency %q", name)
	}
	return agencyID.String(), nil
}

// EnrollDirectly stores a recipient profile for actor without going
// through the enrollment endpoint, so no post-enrollment allocation runs.
func (tc *TestContext) EnrollDirectly(ctx context.Context, actorName, agencyName, fullName string) error {
	agencyID, ok := tc.agencies[agencyName]
	if !ok {
		return fmt.Errorf("unknown agency %q", agencyName)
	}
	entry, err := tc.app.Store.FindRosterEntry(ctx, agencyID, fullName)
	if err != nil {
		return fmt.Errorf("roster entry %q: %w", fullName, err)
	}
	accountID := tc.RegisterActor(actorName, requestcontext.RoleRecipient)
	recipient, err := models.NewRecipient(id.RecipientID(accountID), *entry, time.Now().Add(-time.Hour))
	if err != nil {
		return err
	}
	return tc.app.Store.CreateRecipient(ctx, recipient)
}

// As sends a request authenticated as the named actor.
func (tc *TestContext) As(actorName, method, path string, body any) error {
	a, ok := tc.actors[actorName]
	if !ok {
		return fmt.Errorf("unknown actor %q", actorName)
	}
	token, err := tc.jwt.GenerateAccessToken(a.id, string(a.role), actorName, time.Hour)
	if err != nil {
		return err
	}
	return tc.Do(method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

func (tc *TestContext) Do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, tc.server.URL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastStatus = resp.StatusCode
	return nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

// GetResponseField reads a dotted path such as "claim.status" from the last body.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var current any
	if err := json.Unmarshal(tc.lastBody, &current); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not found in response: %s", field, tc.lastBody)
		}
	}
	return current, nil
}

func (tc *TestContext) SaveToken(token string) {
	tc.savedToken = token
}

func (tc *TestContext) SavedToken() string {
	return tc.savedToken
}
