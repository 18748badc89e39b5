// Package auth identifies the caller of the chat gateway.
//
// Callers present an HS256 JWT in the Authorization header. The "sub" claim
// is the user id and "roles" lists role names (Admin, User, Guest, Support,
// Tester, Partner). Unknown role names are ignored and a token without any
// valid role is treated as User.
//
// # Middleware
//
//	HTTPAuthMiddleware(verifier)     // rejects requests without a valid token
//	OptionalAuthMiddleware(verifier) // attaches identity when present
//	RequireAdminHTTP()               // requires the Admin role
//
// Handlers read the identity with FromContext. Rejections are written as the
// gateway envelope with status "Unauthorized" and HTTP 401.
//
// # Token Management
//
// The CLI "token" subcommand mints tokens for local testing:
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate(userID, roles, 24*time.Hour)
//
// Secrets shorter than MinSecretLength bytes are rejected.
package auth
