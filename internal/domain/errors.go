package domain

import "errors"

var (
	ErrNameEmpty   = errors.New("name empty")
	ErrNameTooLong = errors.New("name too long")

	ErrConnectionLost = errors.New("connection lost")
	ErrBackpressure   = errors.New("backpressure")
	ErrRateLimited    = errors.New("rate limited")

	ErrUnknownTag = errors.New("unknown tag")
	ErrBadPayload = errors.New("bad payload")

	ErrMediaAcquiring = errors.New("media acquisition already in progress")

	ErrVoteClosed   = errors.New("no vote open")
	ErrAlreadyVoted = errors.New("already voted")
	ErrBadOption    = errors.New("option out of range")
)
