// Package tui provides the terminal review console for pending approval
// requests.
//
// The console lists every pending request of one session, shows the
// selected request's action data, and resolves it on a keypress:
//   - y / n approve or reject without a comment
//   - a / x approve or reject after typing a comment
//   - tab / shift+tab move between requests
//   - j / k, pgup / pgdown, g / G scroll the detail pane
//   - r reloads, q quits
//
// Usage:
//
//	client := httpapi.NewClient("http://127.0.0.1:8080", sessionID, nil)
//	model, err := tui.RunReview(ctx, client)
//
// The list is reloaded on an interval (see WithRefreshInterval) so requests
// created while the console is open appear without a manual refresh.
package tui
