// Package browserkernel owns the single, process-wide browser session: one
// persistent tab (tab-0) plus a bounded, reuse-not-destroy pool of
// background tabs, profile persistence across restarts, and Cloudflare
// challenge handling.
package browserkernel

import "errors"

// Typed failures the orchestrator distinguishes from an ordinary tool
// error string: these warrant a retry at the caller rather than being
// surfaced as a final answer.
var (
	// ErrElementNotFound is returned when a selector-driven action (click,
	// type, position lookup) cannot locate its target.
	ErrElementNotFound = errors.New("element-not-found")

	// ErrNavigationTimeout is returned when a navigate call does not reach
	// a load state within its configured timeout.
	ErrNavigationTimeout = errors.New("navigation-timeout")

	// ErrBrowserRecovered is returned for the in-flight operation that
	// observed a health-probe failure; the kernel has torn down and will
	// recreate the browser on the next request.
	ErrBrowserRecovered = errors.New("browser-recovered")

	// ErrTabCeilingReached is returned when OpenBackgroundTab is called
	// with the background tab pool already at its configured ceiling.
	ErrTabCeilingReached = errors.New("background tab ceiling reached")

	// ErrTabZeroProtected is returned when a caller attempts to close
	// tab-0, the sacred persistent tab.
	ErrTabZeroProtected = errors.New("tab-0 cannot be closed")

	// ErrTabNotFound is returned when a tab ID does not match any known
	// background tab.
	ErrTabNotFound = errors.New("tab not found")

	// ErrKernelClosed is returned for any operation attempted after Close.
	ErrKernelClosed = errors.New("browser kernel closed")

	// ErrSecurityViolation is returned by the profile-path resolver for a
	// symlink, path-traversal, or out-of-base path.
	ErrSecurityViolation = errors.New("profile path security violation")
)
