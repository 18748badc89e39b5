// ABOUTME: Credential pool that selects which backend secret serves a caller and model
// ABOUTME: Wraps the credential store with scope filtering and administrative updates

package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/2389/chat-gateway/internal/store"
)

// ErrNoEligibleCredential is returned when no enabled credential serves the roles and model.
var ErrNoEligibleCredential = errors.New("no eligible credential")

// DefaultModels is the model catalogue offered when config does not override it.
var DefaultModels = []string{
	"gpt-3.5-turbo",
	"gpt-3.5-turbo-16k",
	"gpt-4",
	"gpt-4-32k",
	"gpt-4-turbo",
	"gpt-4o",
	"gpt-4o-mini",
}

// ModelOption is a catalogue entry visible to a role set.
type ModelOption struct {
	Model       string `json:"value"`
	Label       string `json:"label"`
	Credentials int    `json:"credentials"`
}

// Pool selects eligible credentials and applies admin changes.
type Pool struct {
	store    store.CredentialStore
	strategy Strategy
	models   []string
	logger   *slog.Logger
}

// NewPool creates a Pool. A nil strategy defaults to RoundRobin and an empty
// model list defaults to DefaultModels.
func NewPool(s store.CredentialStore, strategy Strategy, models []string, logger *slog.Logger) *Pool {
	if strategy == nil {
		strategy = &RoundRobin{}
	}
	if len(models) == 0 {
		models = DefaultModels
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:    s,
		strategy: strategy,
		models:   models,
		logger:   logger.With("component", "credential"),
	}
}

// Models returns the configured model catalogue.
func (p *Pool) Models() []string {
	return append([]string(nil), p.models...)
}

// SelectCandidates returns enabled credentials whose role scope intersects roles
// and whose model scope contains model, ordered by id.
func (p *Pool) SelectCandidates(ctx context.Context, roles []store.RoleName, model string) ([]*store.Credential, error) {
	enabled, err := p.store.ListEnabledCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	var candidates []*store.Credential
	for _, cred := range enabled {
		if cred.State != store.CredentialEnabled {
			continue
		}
		if cred.ServesModel(model) && store.HasAnyRole(cred.RoleScope, roles) {
			candidates = append(candidates, cred)
		}
	}
	return candidates, nil
}

// Pick returns eligible candidates in strategy order.
// Returns ErrNoEligibleCredential if none match.
func (p *Pool) Pick(ctx context.Context, roles []store.RoleName, model string) ([]*store.Credential, error) {
	candidates, err := p.SelectCandidates(ctx, roles, model)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		p.logger.Debug("no eligible credential", "roles", roles, "model", model)
		return nil, ErrNoEligibleCredential
	}
	return p.strategy.Order(candidates), nil
}

// Upsert inserts cred when its id is empty and replaces it otherwise.
func (p *Pool) Upsert(ctx context.Context, cred *store.Credential) error {
	for _, m := range cred.ModelScope {
		if m == "" {
			return fmt.Errorf("empty model in scope")
		}
	}
	if err := p.store.UpsertCredential(ctx, cred); err != nil {
		return err
	}
	p.logger.Info("credential upserted", "id", cred.ID, "models", cred.ModelScope, "roles", cred.RoleScope, "status", cred.State)
	return nil
}

// SetStatus enables or disables a credential.
func (p *Pool) SetStatus(ctx context.Context, id string, state store.CredentialState) error {
	if state != store.CredentialEnabled && state != store.CredentialDisabled {
		return fmt.Errorf("invalid credential status: %q", state)
	}
	if err := p.store.SetCredentialState(ctx, id, state); err != nil {
		return err
	}
	p.logger.Info("credential status changed", "id", id, "status", state)
	return nil
}

// List returns every credential for admin listing.
func (p *Pool) List(ctx context.Context) ([]*store.Credential, error) {
	return p.store.ListCredentials(ctx)
}

// ModelsFor returns the catalogue models served by at least one enabled
// credential available to roles. Labels get a " (n)" suffix when more than
// one credential serves the model.
func (p *Pool) ModelsFor(ctx context.Context, roles []store.RoleName) ([]ModelOption, error) {
	enabled, err := p.store.ListEnabledCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	options := []ModelOption{}
	for _, model := range p.models {
		count := 0
		for _, cred := range enabled {
			if cred.ServesModel(model) && store.HasAnyRole(cred.RoleScope, roles) {
				count++
			}
		}
		if count == 0 {
			continue
		}

		label := model
		if count > 1 {
			label += " (" + strconv.Itoa(count) + ")"
		}
		options = append(options, ModelOption{Model: model, Label: label, Credentials: count})
	}
	return options, nil
}
