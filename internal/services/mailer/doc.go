// Package mailer sends templated email to lists of recipients.
//
// A bulk send substitutes {{placeholder}} variables per recipient
// (custom defaults from the job, overridden by address-book
// personalization), picks a sending credential by least-recently-used
// rotation, retries transient failures per recipient, and appends an
// email-log row for every attempt outcome. Per-recipient failures are
// absorbed here; callers only see aggregate sent/failed counts.
package mailer
