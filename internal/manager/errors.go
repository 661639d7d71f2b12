package manager

import "errors"

var (
	ErrTaskNotFound = errors.New("manager: task not found")
	ErrTaskFinished = errors.New("manager: task already finished")
)
