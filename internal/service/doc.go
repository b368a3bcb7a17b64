// Package service contains the application-specific use cases of the task
// orchestration subsystem. It coordinates domain objects and the stores
// (defined in internal/store) to fulfill application features.
//
// Key components:
//
// 1. SubmissionService:
//   - Records a pending task together with the chat reply or daily fortune it fills
//   - Applies every write of one submission in a single transaction
//   - Emits a task.submitted event after commit as a wake-up hint for executors
//
// 2. StatusService:
//   - Answers single and batch status queries for the owning user
//   - Collapses missing and foreign tasks into one not-found outcome
//   - Caches terminal tasks, which never change once written
//
// 3. Error Handling:
//   - Store errors with a service-level meaning are returned as service sentinels
//   - Everything else is wrapped in *ServiceError with the failing operation
//
// The service layer depends on domain entities and store interfaces, never on
// a specific infrastructure implementation.
package service
