// Package cooldown tracks per-key cooldown windows, such as the interval a
// phone number must wait between verification codes.
package cooldown
