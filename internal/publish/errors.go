package publish

import "fmt"

// Stage errors carry which pipeline stage failed and the underlying cause.
// They unwrap so browser.ErrTimeout stays visible through the wrap.

// LoginError means credentials were rejected or the login page structure was
// unrecognized.
type LoginError struct{ Err error }

func (e *LoginError) Error() string { return fmt.Sprintf("LoginError: %v", e.Err) }
func (e *LoginError) Unwrap() error { return e.Err }

// UploadError means the file attach step failed.
type UploadError struct{ Err error }

func (e *UploadError) Error() string { return fmt.Sprintf("UploadError: %v", e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// FillError means a metadata field that was present could not be filled.
type FillError struct{ Err error }

func (e *FillError) Error() string { return fmt.Sprintf("FillError: %v", e.Err) }
func (e *FillError) Unwrap() error { return e.Err }

// SubmitError means the final publish control failed or confirmation never
// arrived.
type SubmitError struct{ Err error }

func (e *SubmitError) Error() string { return fmt.Sprintf("SubmitError: %v", e.Err) }
func (e *SubmitError) Unwrap() error { return e.Err }
