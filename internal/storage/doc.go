package storage

// Package storage is the persistence layer for scheduled send jobs and
// their collaborators:
//
//   - scheduled job records (durable schedule + run bookkeeping)
//   - email templates
//   - API keys (rotation bookkeeping)
//   - the email send log
//   - the per-user recipient address book (personalization fields)
