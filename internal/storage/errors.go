package storage

import "fmt"

// ValidationError 表示文件内容与声明的类型不符，属于用户输入问题。
type ValidationError struct {
	Claimed  string
	Detected string
}

func (e *ValidationError) Error() string {
	if e.Detected != "" {
		return fmt.Sprintf("invalid file format: file appears to be %s but was claimed to be %s", e.Detected, e.Claimed)
	}
	return fmt.Sprintf("invalid file format: file doesn't match the claimed type %s", e.Claimed)
}

// IOError is returned once a write or delete has exhausted its retry budget.
type IOError struct {
	Op       string
	Path     string
	Attempts int
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Op, e.Path, e.Attempts, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
