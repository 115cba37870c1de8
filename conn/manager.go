// Package conn implements the connection/subscription manager:
// registration of local media sources, subscribe-prefix matching against
// newly published URLs, notification dispatch, and media_id allocation
// for accepted publications.
//
// Prefix matching follows a plain string-prefix comparison, and
// media_id allocation uses a flat arena of integer ids rather than
// intrusive back-pointers into connection state.
package conn

import (
	"errors"
	"strings"
	"sync"

	"github.com/mediaquic/quicrq/ids"
)

// ErrSourceNotFound is returned when a lookup targets a URL with no
// registered source.
var ErrSourceNotFound = errors.New("conn: source not found")

// ErrAlreadyRegistered is returned by RegisterSource when the URL is
// already published.
var ErrAlreadyRegistered = errors.New("conn: source already registered")

// SourceProperties accompanies a newly published media source.
type SourceProperties struct {
	HasStartPoint bool
	StartPoint    ids.Location
	IsRealTime    bool
}

type registeredSource struct {
	url   string
	props SourceProperties
}

// notifyStream is a local stream on which a peer has SUBSCRIBEd to a URL
// prefix: it is in send-state notify_ready, and accumulates pending
// notification URLs until the stream's driver flushes them.
type notifyStream struct {
	prefix  string
	pending []string
}

// outgoingSubscription is a subscribe-pattern this connection initiated:
// once a NOTIFY carrying a matching URL arrives on streamID, notifyFn is
// invoked with it.
type outgoingSubscription struct {
	prefix   string
	notifyFn func(url string)
}

// Manager is the per-connection subscription and source registry.
type Manager struct {
	mu sync.Mutex

	sources map[string]*registeredSource

	notifyStreams map[ids.StreamID]*notifyStream
	outgoing      map[ids.StreamID]*outgoingSubscription

	nextMediaID ids.MediaID
	mediaURLs   map[ids.MediaID]string
}

// New returns an empty connection/subscription manager.
func New() *Manager {
	return &Manager{
		sources:       make(map[string]*registeredSource),
		notifyStreams: make(map[ids.StreamID]*notifyStream),
		outgoing:      make(map[ids.StreamID]*outgoingSubscription),
		mediaURLs:     make(map[ids.MediaID]string),
	}
}

// SubscribePattern registers the local side of a subscribe-pattern
// exchange on streamID: the caller is expected to have already opened
// the stream and sent a SUBSCRIBE message carrying prefix. Once a
// NOTIFY for a URL matching prefix arrives on streamID, notifyFn is
// invoked via NotifyReceived.
func (m *Manager) SubscribePattern(streamID ids.StreamID, prefix string, notifyFn func(url string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outgoing[streamID] = &outgoingSubscription{prefix: prefix, notifyFn: notifyFn}
}

// NotifyReceived dispatches an incoming NOTIFY's URL to the callback
// registered by SubscribePattern for streamID.
func (m *Manager) NotifyReceived(streamID ids.StreamID, url string) error {
	m.mu.Lock()
	sub, ok := m.outgoing[streamID]
	m.mu.Unlock()
	if !ok {
		return errors.New("conn: notify on a stream with no pending subscription")
	}
	sub.notifyFn(url)
	return nil
}

// RegisterNotifyReady records that streamID is now a notify_ready
// stream for prefix, because a SUBSCRIBE carrying prefix was received
// on it.
func (m *Manager) RegisterNotifyReady(streamID ids.StreamID, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyStreams[streamID] = &notifyStream{prefix: prefix}
}

// RegisterSource registers url as a locally published media source and
// returns the list of notify_ready streams whose prefix matches url;
// each returned stream also has url appended to its pending queue for
// DrainPending.
func (m *Manager) RegisterSource(url string, props SourceProperties) ([]ids.StreamID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sources[url]; exists {
		return nil, ErrAlreadyRegistered
	}
	m.sources[url] = &registeredSource{url: url, props: props}

	var matched []ids.StreamID
	for streamID, ns := range m.notifyStreams {
		if strings.HasPrefix(url, ns.prefix) {
			ns.pending = append(ns.pending, url)
			matched = append(matched, streamID)
		}
	}
	return matched, nil
}

// DrainPending returns and clears the URLs queued for NOTIFY on
// streamID.
func (m *Manager) DrainPending(streamID ids.StreamID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.notifyStreams[streamID]
	if !ok || len(ns.pending) == 0 {
		return nil
	}
	out := ns.pending
	ns.pending = nil
	return out
}

// Source looks up a previously registered source by URL.
func (m *Manager) Source(url string) (SourceProperties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sources[url]
	if !ok {
		return SourceProperties{}, ErrSourceNotFound
	}
	return s.props, nil
}

// AcceptMedia mints a fresh connection-local media_id for a publication
// accepted on a stream, implementing accept_media's allocation step.
func (m *Manager) AcceptMedia(url string) ids.MediaID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMediaID++
	id := m.nextMediaID
	m.mediaURLs[id] = url
	return id
}

// MediaURL returns the URL bound to a previously accepted media_id.
func (m *Manager) MediaURL(id ids.MediaID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url, ok := m.mediaURLs[id]
	return url, ok
}
