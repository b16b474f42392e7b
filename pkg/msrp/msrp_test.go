package msrp

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport транспорт для тестов менеджера
type fakeTransport struct {
	mu       sync.Mutex
	opened   int
	closed   int
	chunks   []ChunkType
	openErr  error
	chunkErr error
}

func (f *fakeTransport) Open(_ context.Context, _ Role, _, _ Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened++
	return nil
}

func (f *fakeTransport) SendChunk(_, _ string, _ []byte, chunkType ChunkType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunkErr != nil {
		return f.chunkErr
	}
	f.chunks = append(f.chunks, chunkType)
	return nil
}

func (f *fakeTransport) SendEmptyChunk() error {
	return f.SendChunk("", "", nil, ChunkEmpty)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func testRemote() Endpoint {
	return Endpoint{Host: "192.0.2.1", Port: 2855, Path: "msrp://192.0.2.1:2855/peer;tcp"}
}

// TestManagerSingleOpenTransport проверяет инвариант единственного
// открытого транспорта
func TestManagerSingleOpenTransport(t *testing.T) {
	tr := &fakeTransport{}
	mgr := NewManager("10.0.0.1", 2855, tr, nil)

	require.NoError(t, mgr.Open(context.Background(), RoleActive, testRemote()))
	assert.True(t, mgr.IsOpen())

	// Повторное открытие без закрытия запрещено
	err := mgr.Open(context.Background(), RoleActive, testRemote())
	require.Error(t, err)
	assert.Equal(t, 1, tr.opened)

	require.NoError(t, mgr.Close())
	assert.False(t, mgr.IsOpen())

	// После закрытия открытие снова допустимо
	require.NoError(t, mgr.Open(context.Background(), RolePassive, testRemote()))
	assert.Equal(t, 2, tr.opened)
}

func TestManagerSendRequiresOpen(t *testing.T) {
	mgr := NewManager("10.0.0.1", 2855, &fakeTransport{}, nil)

	assert.Error(t, mgr.SendChunk("m1", "text/plain", []byte("hi"), ChunkTextMessage))
	assert.Error(t, mgr.SendEmptyChunk())

	require.NoError(t, mgr.Open(context.Background(), RoleActive, testRemote()))
	assert.NoError(t, mgr.SendChunk("m1", "text/plain", []byte("hi"), ChunkTextMessage))
	assert.NoError(t, mgr.SendEmptyChunk())
}

func TestManagerCloseIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	mgr := NewManager("10.0.0.1", 2855, tr, nil)

	require.NoError(t, mgr.Open(context.Background(), RoleActive, testRemote()))
	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close())
	assert.Equal(t, 1, tr.closed)
}

func TestManagerLocalEndpoint(t *testing.T) {
	mgr := NewManager("10.0.0.1", 2855, &fakeTransport{}, nil)
	ep := mgr.LocalEndpoint()

	assert.Equal(t, "10.0.0.1", ep.Host)
	assert.Equal(t, 2855, ep.Port)
	assert.Contains(t, ep.Path, "msrp://10.0.0.1:2855/")
	assert.Contains(t, ep.Path, ";tcp")
}

func TestSetupNegotiation(t *testing.T) {
	assert.Equal(t, "active", OfferSetup(true))
	assert.Equal(t, "actpass", OfferSetup(false))

	assert.Equal(t, "passive", AnswerSetup("active", false))
	assert.Equal(t, "active", AnswerSetup("passive", false))
	assert.Equal(t, "active", AnswerSetup("actpass", true))
	assert.Equal(t, "passive", AnswerSetup("actpass", false))
	assert.Equal(t, "passive", AnswerSetup("", false))

	assert.Equal(t, RoleActive, RoleFromSetup("active"))
	assert.Equal(t, RolePassive, RoleFromSetup("passive"))
}

// TestPortForSetup проверяет сентинел порта 9 для активной роли
func TestPortForSetup(t *testing.T) {
	assert.Equal(t, ActivePortSentinel, PortForSetup("active", 2855))
	assert.Equal(t, 2855, PortForSetup("passive", 2855))
	assert.Equal(t, 2855, PortForSetup("actpass", 2855))
}

func TestStatusErrorTransient(t *testing.T) {
	assert.True(t, (&StatusError{Code: 408}).Transient())
	assert.True(t, (&StatusError{Code: 413}).Transient())
	assert.False(t, (&StatusError{Code: 481}).Transient())
	assert.False(t, (&StatusError{Code: 500}).Transient())

	var statusErr *StatusError
	err := error(&StatusError{Code: 413, Text: "Too Large"})
	require.True(t, errors.As(err, &statusErr))
	assert.Contains(t, statusErr.Error(), "413")
}

func TestBuildChatSDP(t *testing.T) {
	body, err := BuildChatSDP(ChatSDPOpts{
		LocalIP:      "10.0.0.1",
		Port:         ActivePortSentinel,
		Path:         "msrp://10.0.0.1:2855/sess;tcp",
		Setup:        "active",
		AcceptTypes:  []string{"message/cpim", "text/plain"},
		WrappedTypes: []string{"text/plain", "message/imdn+xml"},
		Direction:    "sendrecv",
	})
	require.NoError(t, err)

	assert.Contains(t, body, "m=message 9 TCP/MSRP *")
	assert.Contains(t, body, "a=accept-types:message/cpim text/plain")
	assert.Contains(t, body, "a=accept-wrapped-types:text/plain message/imdn+xml")
	assert.Contains(t, body, "a=setup:active")
	assert.Contains(t, body, "a=path:msrp://10.0.0.1:2855/sess;tcp")
	assert.Contains(t, body, "a=sendrecv")
}

func TestBuildChatSDPRequiresPath(t *testing.T) {
	_, err := BuildChatSDP(ChatSDPOpts{LocalIP: "10.0.0.1", Port: 2855})
	assert.Error(t, err)
}

// TestSDPRoundTrip проверяет, что построенное предложение разбирается
// обратно в те же параметры транспорта
func TestSDPRoundTrip(t *testing.T) {
	body, err := BuildChatSDP(ChatSDPOpts{
		LocalIP:     "192.0.2.7",
		Port:        2855,
		Path:        "msrp://192.0.2.7:2855/abc;tcp",
		Setup:       "passive",
		AcceptTypes: []string{"message/cpim"},
	})
	require.NoError(t, err)

	offer, err := ParseRemoteOffer([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "192.0.2.7", offer.Endpoint.Host)
	assert.Equal(t, 2855, offer.Endpoint.Port)
	assert.Equal(t, "msrp://192.0.2.7:2855/abc;tcp", offer.Endpoint.Path)
	assert.Equal(t, "passive", offer.Setup)
	assert.Equal(t, []string{"message/cpim"}, offer.AcceptTypes)
}

func TestParseRemoteOfferDefaults(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 1 1 IN IP4 192.0.2.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 192.0.2.1\r\n" +
		"t=0 0\r\n" +
		"m=message 2855 TCP/MSRP *\r\n" +
		"a=path:msrp://192.0.2.1:2855/xyz;tcp\r\n"

	offer, err := ParseRemoteOffer([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "passive", offer.Setup, "missing setup defaults to passive")
	assert.Equal(t, "192.0.2.1", offer.Endpoint.Host, "session-level connection used")
}

func TestParseRemoteOfferErrors(t *testing.T) {
	_, err := ParseRemoteOffer([]byte("not an sdp"))
	assert.Error(t, err)

	noMessage := "v=0\r\no=- 1 1 IN IP4 192.0.2.1\r\ns=-\r\nc=IN IP4 192.0.2.1\r\nt=0 0\r\n" +
		"m=audio 4000 RTP/AVP 0\r\n"
	_, err = ParseRemoteOffer([]byte(noMessage))
	assert.Error(t, err, "no message media")

	noPath := "v=0\r\no=- 1 1 IN IP4 192.0.2.1\r\ns=-\r\nc=IN IP4 192.0.2.1\r\nt=0 0\r\n" +
		"m=message 2855 TCP/MSRP *\r\n"
	_, err = ParseRemoteOffer([]byte(noPath))
	assert.Error(t, err, "no path")
}
