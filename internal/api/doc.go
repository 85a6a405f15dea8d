// Package api provides the IG REST trading API client used to pull price bars.
//
// REST endpoints:
//   - Live: https://api.ig.com/gateway/deal
//   - Demo: https://demo-api.ig.com/gateway/deal
//
// Used resources: POST /session (v2), DELETE /session, GET /prices/{epic} (v3)
package api
