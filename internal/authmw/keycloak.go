package authmw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/Nerzal/gocloak/v13"
	"github.com/golang-jwt/jwt/v5"

	"kyri56xcaesar/pms-kanban/internal/logger"
	"kyri56xcaesar/pms-kanban/internal/store"
)

// KeycloakAuth verifies RS256 tokens issued by a Keycloak realm.
type KeycloakAuth struct {
	Issuer   string // e.g. http://localhost:8080/realms/myrealm
	Audience string // checked only when set
	ClientID string // for client roles under resource_access[ClientID].roles

	JWKS   *keyfunc.JWKS
	Leeway time.Duration
}

// NewKeycloakAuth fetches the realm keys once and keeps them refreshed in
// the background.
func NewKeycloakAuth(jwksURL, issuer, audience, clientID string) (*KeycloakAuth, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:  time.Hour,
		RefreshRateLimit: time.Minute * 5,
		RefreshTimeout:   time.Second * 10,
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks refresh failed", "url", jwksURL, "error", err)
		},
	})
	if err != nil {
		return nil, err
	}

	return &KeycloakAuth{
		Issuer:   issuer,
		Audience: audience,
		ClientID: clientID,
		JWKS:     jwks,
		Leeway:   30 * time.Second,
	}, nil
}

type KCClaims struct {
	jwt.RegisteredClaims

	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name"`

	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`

	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

func (a *KeycloakAuth) Verify(tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(a.Issuer),
		jwt.WithLeeway(a.Leeway),
		jwt.WithValidMethods([]string{"RS256"}),
	}
	if a.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.Audience))
	}

	claims := &KCClaims{}
	if _, err := jwt.ParseWithClaims(tokenStr, claims, a.JWKS.Keyfunc, opts...); err != nil {
		return nil, err
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	return &Identity{
		Subject: claims.Subject,
		Email:   store.NormalizeEmail(claims.Email),
		Name:    name,
		Roles:   collectRoles(claims, a.ClientID),
	}, nil
}

func (a *KeycloakAuth) Close() {
	if a.JWKS != nil {
		a.JWKS.EndBackground()
	}
}

func collectRoles(claims *KCClaims, clientID string) []string {
	out := make([]string, 0, 16)
	out = append(out, claims.RealmAccess.Roles...)

	if clientID != "" && claims.ResourceAccess != nil {
		if ra, ok := claims.ResourceAccess[clientID]; ok {
			out = append(out, ra.Roles...)
		}
	}

	return uniq(out)
}

// KeycloakService performs account operations against the realm on
// behalf of the register and login endpoints.
type KeycloakService struct {
	Client       *gocloak.GoCloak
	Realm        string
	clientID     string
	clientSecret string

	Auth *KeycloakAuth
}

type KeycloakConfig struct {
	Address      string // host:port
	Realm        string
	ClientID     string
	ClientSecret string
	Audience     string
}

func (c KeycloakConfig) baseURL() string {
	if strings.HasPrefix(c.Address, "http://") || strings.HasPrefix(c.Address, "https://") {
		return strings.TrimSuffix(c.Address, "/")
	}
	return "http://" + c.Address
}

func (c KeycloakConfig) Issuer() string {
	return fmt.Sprintf("%s/realms/%s", c.baseURL(), c.Realm)
}

func (c KeycloakConfig) JWKSURL() string {
	return c.Issuer() + "/protocol/openid-connect/certs"
}

func NewKeycloakService(cfg KeycloakConfig) (*KeycloakService, error) {
	kcAuth, err := NewKeycloakAuth(cfg.JWKSURL(), cfg.Issuer(), cfg.Audience, cfg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate the keycloak verifier: %w", err)
	}

	s := &KeycloakService{
		Client:       gocloak.NewClient(cfg.baseURL()),
		Realm:        cfg.Realm,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		Auth:         kcAuth,
	}

	if err := s.selfTest(); err != nil {
		kcAuth.Close()
		return nil, err
	}
	return s, nil
}

func (s *KeycloakService) selfTest() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := s.loginClient(ctx)
	if err != nil {
		return fmt.Errorf("keycloak auth failed: %w", err)
	}

	if _, err := s.Client.GetRealm(ctx, token, s.Realm); err != nil {
		return fmt.Errorf("keycloak permission check failed: %w", err)
	}
	return nil
}

func (s *KeycloakService) loginClient(ctx context.Context) (string, error) {
	tok, err := s.Client.LoginClient(ctx, s.clientID, s.clientSecret, s.Realm)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Login exchanges the user's credentials for realm tokens. Accounts are
// registered with their email as username.
func (s *KeycloakService) Login(ctx context.Context, email, password string) (*gocloak.JWT, error) {
	return s.Client.Login(ctx, s.clientID, s.clientSecret, s.Realm, store.NormalizeEmail(email), password)
}

// Register creates an enabled realm user and grants the realm role named
// after role when it is admin.
func (s *KeycloakService) Register(ctx context.Context, name, email, password string, role store.Role) (string, error) {
	token, err := s.loginClient(ctx)
	if err != nil {
		return "", fmt.Errorf("keycloak client login: %w", err)
	}

	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	email = store.NormalizeEmail(email)

	user := gocloak.User{
		Username:      gocloak.StringP(email),
		Email:         gocloak.StringP(email),
		EmailVerified: gocloak.BoolP(true),
		Enabled:       gocloak.BoolP(true),
		FirstName:     gocloak.StringP(first),
		LastName:      gocloak.StringP(strings.TrimSpace(last)),
		Credentials: &[]gocloak.CredentialRepresentation{
			{
				Type:      gocloak.StringP("password"),
				Value:     gocloak.StringP(password),
				Temporary: gocloak.BoolP(false),
			},
		},
	}

	userID, err := s.Client.CreateUser(ctx, token, s.Realm, user)
	if err != nil {
		var apiErr *gocloak.APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return "", fmt.Errorf("user %s: %w", email, store.ErrConflict)
		}
		return "", err
	}

	if role == store.RoleAdmin {
		r, err := s.Client.GetRealmRole(ctx, token, s.Realm, string(store.RoleAdmin))
		if err == nil {
			err = s.Client.AddRealmRoleToUser(ctx, token, s.Realm, userID, []gocloak.Role{*r})
		}
		if err != nil {
			_ = s.Client.DeleteUser(ctx, token, s.Realm, userID)
			return "", fmt.Errorf("grant admin role: %w", err)
		}
	}
	return userID, nil
}

func (s *KeycloakService) Close() {
	s.Auth.Close()
}
