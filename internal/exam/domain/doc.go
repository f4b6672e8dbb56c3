// Package domain holds the live state of one running exam: the room
// catalog, every student's attendance record, open room transfers, the
// bounded event journal, and per-student derived files.
//
// The ExamAggregate is the single consistency boundary. All mutation is
// expressed as a transformation of one aggregate value; concurrency control
// and persistence live outside this package.
package domain
