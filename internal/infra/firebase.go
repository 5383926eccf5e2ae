// README: Firebase Admin SDK initialisation: ID token verifier and FCM messaging client.
package infra

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseToken holds the verified token data used by downstream middleware.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw Firebase ID token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

// Firebase bundles the admin app clients the dispatch API uses.
type Firebase struct {
	Verifier  TokenVerifier
	Messaging *messaging.Client
}

type firebaseVerifier struct {
	client *auth.Client
}

// NewFirebase creates the admin app once and derives the auth and messaging clients.
// If credentialsFile is non-empty it is used as the service-account JSON path;
// otherwise application-default credentials are used.
func NewFirebase(ctx context.Context, projectID, credentialsFile string) (*Firebase, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return &Firebase{Verifier: &firebaseVerifier{client: authClient}, Messaging: msgClient}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}

// StaticVerifier backs local development when DISPATCH_AUTH_DISABLED is set.
// A token "uid" authenticates uid with the default Role; "role:uid" overrides the role.
type StaticVerifier struct {
	Role string
}

func (s StaticVerifier) VerifyIDToken(_ context.Context, idToken string) (*FirebaseToken, error) {
	if idToken == "" {
		return nil, fmt.Errorf("empty token")
	}
	role, uid := s.Role, idToken
	if r, u, ok := strings.Cut(idToken, ":"); ok && r != "" && u != "" {
		role, uid = r, u
	}
	return &FirebaseToken{UID: uid, Claims: map[string]interface{}{"role": role}}, nil
}
