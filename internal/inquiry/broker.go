// Package inquiry is the rendezvous point between the in-container agent
// and the human operator.
//
// The agent posts a question and blocks until an answer arrives; the
// host-side relay polls for the pending question and posts the answer. The
// pending slot is owned by a single goroutine and reached only through
// channels, so "at most one pending inquiry" holds structurally rather than
// by locking discipline.
package inquiry

import (
	"context"
	"errors"
)

// ErrBusy is returned when a question is posted while another is pending.
var ErrBusy = errors.New("inquiry relay busy: a question is already pending")

// ErrNonePending is returned when an answer arrives with no question waiting.
var ErrNonePending = errors.New("no inquiry pending")

// ErrClosed is returned to a blocked asker when the broker shuts down.
var ErrClosed = errors.New("inquiry relay shut down")

type askReq struct {
	question string
	reply    chan askResult
}

type askResult struct {
	answer string
	err    error
}

type answerReq struct {
	answer string
	reply  chan error
}

// Broker sequences inquiries between the agent and the relay.
type Broker struct {
	asks    chan askReq
	peeks   chan chan string
	answers chan answerReq
	done    chan struct{}
}

// NewBroker starts the broker's owning goroutine.
func NewBroker() *Broker {
	b := &Broker{
		asks:    make(chan askReq),
		peeks:   make(chan chan string),
		answers: make(chan answerReq),
		done:    make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	var pending *askReq
	for {
		select {
		case ask := <-b.asks:
			if pending != nil {
				ask.reply <- askResult{err: ErrBusy}
				continue
			}
			pending = &ask
		case reply := <-b.peeks:
			if pending != nil {
				reply <- pending.question
			} else {
				reply <- ""
			}
		case ans := <-b.answers:
			if pending == nil {
				ans.reply <- ErrNonePending
				continue
			}
			pending.reply <- askResult{answer: ans.answer}
			pending = nil
			ans.reply <- nil
		case <-b.done:
			if pending != nil {
				pending.reply <- askResult{err: ErrClosed}
			}
			return
		}
	}
}

// Ask posts a question and blocks until it is answered, the context is
// canceled, or the broker closes. A second Ask while one is pending fails
// with ErrBusy.
func (b *Broker) Ask(ctx context.Context, question string) (string, error) {
	req := askReq{question: question, reply: make(chan askResult, 1)}
	select {
	case b.asks <- req:
	case <-b.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.answer, res.err
	case <-ctx.Done():
		// The question stays pending; the agent gave up waiting.
		return "", ctx.Err()
	}
}

// Peek returns the pending question's text, or "" if none is pending.
func (b *Broker) Peek() string {
	reply := make(chan string, 1)
	select {
	case b.peeks <- reply:
		return <-reply
	case <-b.done:
		return ""
	}
}

// Answer resolves the pending inquiry. ErrNonePending if there is none.
func (b *Broker) Answer(answer string) error {
	req := answerReq{answer: answer, reply: make(chan error, 1)}
	select {
	case b.answers <- req:
		return <-req.reply
	case <-b.done:
		return ErrClosed
	}
}

// Close stops the broker. A blocked asker receives ErrClosed.
func (b *Broker) Close() {
	close(b.done)
}
