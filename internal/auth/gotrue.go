package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
)

// GoTrueVerifier asks the Supabase auth server who owns a token.
type GoTrueVerifier struct {
	client gotrue.Client
}

// extractProjectRef turns "https://abcd.supabase.co" into "abcd".
func extractProjectRef(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	ref, _, _ := strings.Cut(url, ".")
	return ref
}

// NewGoTrueVerifier accepts either a hosted project URL or a self-hosted
// base URL, in which case the auth API is expected under /auth/v1.
func NewGoTrueVerifier(supabaseURL, serviceKey string) *GoTrueVerifier {
	client := gotrue.New(extractProjectRef(supabaseURL), serviceKey)
	if !strings.HasSuffix(strings.TrimRight(supabaseURL, "/"), ".supabase.co") {
		client = client.WithCustomGoTrueURL(strings.TrimRight(supabaseURL, "/") + "/auth/v1")
	}
	return &GoTrueVerifier{client: client}
}

func (v *GoTrueVerifier) Verify(_ context.Context, token string) (Identity, error) {
	resp, err := v.client.WithToken(token).GetUser()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if resp == nil || resp.ID == uuid.Nil {
		return Identity{}, fmt.Errorf("%w: auth server returned no user", ErrInvalidToken)
	}
	return Identity{UserID: resp.ID.String(), Email: resp.Email}, nil
}
