// Package rostersdk is a Go client for the roster service API.
//
// A Client talks to the unauthenticated endpoints (health, bootstrap,
// login). Login returns a Session that carries the bearer token for the
// admin endpoints.
//
//	c := rostersdk.NewClient("http://localhost:8080")
//	sess, err := c.Login(ctx, "hr@example.com", password)
//	if rostersdk.IsLocked(err) {
//		// wait it out
//	}
//	stats, err := sess.RetentionStats(ctx)
package rostersdk
