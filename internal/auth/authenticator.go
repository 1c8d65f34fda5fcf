package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gotrs-io/gotrs-chat/internal/models"
)

var (
	// ErrNoCredentials tells the chain a provider does not apply to the request.
	ErrNoCredentials      = errors.New("no credentials for provider")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// IdentityKind distinguishes the three kinds of socket clients.
type IdentityKind string

const (
	KindStaff    IdentityKind = "staff"
	KindCustomer IdentityKind = "customer"
	KindPlayer   IdentityKind = "player"
)

// Credentials are the raw values presented by a connecting client.
type Credentials struct {
	StaffToken  string
	TicketToken string
	GameID      string
	AreaID      string
	UID         string
	Timestamp   string
	Sign        string
}

// Identity is the authenticated principal of a connection.
type Identity struct {
	Kind     IdentityKind
	Provider string
	StaffID  string
	Role     models.StaffRole
	TicketID string
	GameID   string
	AreaID   string
	UID      string
}

// IsStaff reports whether the identity belongs to an agent or admin.
func (i *Identity) IsStaff() bool {
	return i != nil && i.Kind == KindStaff
}

// Provider is one authentication strategy.
type Provider interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

// StaffLookup resolves staff members.
type StaffLookup interface {
	GetByID(ctx context.Context, id string) (*models.Staff, error)
}

// TicketLookup resolves customer ticket tokens.
type TicketLookup interface {
	GetByToken(ctx context.Context, token string) (*models.Ticket, error)
}

// Authenticator tries providers in order; the first that validates wins.
type Authenticator struct {
	providers []Provider
}

func NewAuthenticator(providers ...Provider) *Authenticator {
	return &Authenticator{providers: providers}
}

func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	var lastErr error
	for _, p := range a.providers {
		id, err := p.Authenticate(ctx, creds)
		if err == nil {
			id.Provider = p.Name()
			return id, nil
		}
		if !errors.Is(err, ErrNoCredentials) {
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrInvalidCredentials
}

// StaffTokenProvider accepts JWTs issued to agents and admins.
type StaffTokenProvider struct {
	jwt   *JWTManager
	staff StaffLookup
}

func NewStaffTokenProvider(jwt *JWTManager, staff StaffLookup) *StaffTokenProvider {
	return &StaffTokenProvider{jwt: jwt, staff: staff}
}

func (p *StaffTokenProvider) Name() string { return "staff-token" }

func (p *StaffTokenProvider) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.StaffToken == "" {
		return nil, ErrNoCredentials
	}
	claims, err := p.jwt.ValidateToken(creds.StaffToken)
	if err != nil {
		return nil, err
	}
	staff, err := p.staff.GetByID(ctx, claims.StaffID)
	if err != nil {
		return nil, err
	}
	if !models.IsStaffRole(staff.Role) {
		return nil, ErrInvalidCredentials
	}
	return &Identity{Kind: KindStaff, StaffID: staff.ID, Role: staff.Role}, nil
}

// TicketTokenProvider accepts the access token handed to a customer when
// their ticket was created.
type TicketTokenProvider struct {
	tickets TicketLookup
}

func NewTicketTokenProvider(tickets TicketLookup) *TicketTokenProvider {
	return &TicketTokenProvider{tickets: tickets}
}

func (p *TicketTokenProvider) Name() string { return "ticket-token" }

func (p *TicketTokenProvider) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.TicketToken == "" {
		return nil, ErrNoCredentials
	}
	t, err := p.tickets.GetByToken(ctx, creds.TicketToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return &Identity{Kind: KindCustomer, TicketID: t.ID, GameID: t.GameID, AreaID: t.AreaID, UID: t.PlayerIDOrName}, nil
}

// LegacyProvider accepts game-server signed player credentials.
type LegacyProvider struct {
	signer *LegacySigner
}

func NewLegacyProvider(signer *LegacySigner) *LegacyProvider {
	return &LegacyProvider{signer: signer}
}

func (p *LegacyProvider) Name() string { return "legacy-signature" }

func (p *LegacyProvider) Authenticate(_ context.Context, creds Credentials) (*Identity, error) {
	if creds.Sign == "" {
		return nil, ErrNoCredentials
	}
	ts, err := strconv.ParseInt(creds.Timestamp, 10, 64)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := p.signer.Verify(creds.GameID, creds.AreaID, creds.UID, ts, creds.Sign); err != nil {
		return nil, err
	}
	return &Identity{Kind: KindPlayer, GameID: creds.GameID, AreaID: creds.AreaID, UID: creds.UID}, nil
}
