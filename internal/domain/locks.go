package domain

import (
	"hash/fnv"
	"sync"
)

const conversationStripes = 64

// ConversationLocks is a fixed set of mutexes striped by conversation key.
// Both orderings of a pair map to the same mutex. The zero value is ready
// to use.
type ConversationLocks struct {
	stripes [conversationStripes]sync.Mutex
}

// For returns the mutex guarding key's conversation.
func (l *ConversationLocks) For(key ConversationKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return &l.stripes[h.Sum32()%conversationStripes]
}
