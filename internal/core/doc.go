// Package core assembles the daemon: config, logging, storage, the
// mailer, the trigger dispatcher, and the job executor, plus the
// schedule mutation surface that keeps the store and the dispatcher in
// agreement.
package core
