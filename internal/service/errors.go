package service

import "errors"

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrChannelNotFound  = errors.New("channel not found")
)
