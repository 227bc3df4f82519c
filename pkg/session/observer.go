package session

import (
	"time"

	"github.com/teslashibe/go-voicelink/pkg/protocol"
)

type nopObserver struct{}

func (nopObserver) SessionOpened() {}
func (nopObserver) SessionClosed(time.Duration) {}
func (nopObserver) MessageReceived(protocol.MessageType) {}
func (nopObserver) MessageSent(protocol.MessageType) {}
func (nopObserver) ProtocolError(protocol.ErrorCode) {}
