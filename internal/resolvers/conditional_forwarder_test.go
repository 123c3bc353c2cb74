package resolvers

import (
	"context"
	"testing"

	"github.com/jroosing/hydradns/internal/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionalForwarder_RoutesMatchingSuffix(t *testing.T) {
	corp := &mockResolver{result: Result{ResponseBytes: []byte{1}, Source: "corp"}}
	def := &mockResolver{result: Result{ResponseBytes: []byte{2}, Source: "default"}}

	fwd := NewConditionalForwarder([]ConditionalRoute{{Suffix: "corp.example.com", Resolver: corp}}, def)

	req := dns.Packet{Questions: []dns.Question{{Name: "host.corp.example.com"}}}
	res, err := fwd.Resolve(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "corp", res.Source)
}

func TestConditionalForwarder_FallsBackToDefault(t *testing.T) {
	corp := &mockResolver{result: Result{ResponseBytes: []byte{1}, Source: "corp"}}
	def := &mockResolver{result: Result{ResponseBytes: []byte{2}, Source: "default"}}

	fwd := NewConditionalForwarder([]ConditionalRoute{{Suffix: "corp.example.com", Resolver: corp}}, def)

	req := dns.Packet{Questions: []dns.Question{{Name: "example.net"}}}
	res, err := fwd.Resolve(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "default", res.Source)
}

func TestConditionalForwarder_LongestSuffixWins(t *testing.T) {
	broad := &mockResolver{result: Result{ResponseBytes: []byte{1}, Source: "broad"}}
	narrow := &mockResolver{result: Result{ResponseBytes: []byte{2}, Source: "narrow"}}
	def := &mockResolver{result: Result{ResponseBytes: []byte{3}, Source: "default"}}

	fwd := NewConditionalForwarder([]ConditionalRoute{
		{Suffix: "corp.com", Resolver: broad},
		{Suffix: "internal.corp.com", Resolver: narrow},
	}, def)

	req := dns.Packet{Questions: []dns.Question{{Name: "host.internal.corp.com"}}}
	res, err := fwd.Resolve(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "narrow", res.Source)
}

func TestConditionalForwarder_ExactSuffixMatch(t *testing.T) {
	corp := &mockResolver{result: Result{ResponseBytes: []byte{1}, Source: "corp"}}
	def := &mockResolver{result: Result{ResponseBytes: []byte{2}, Source: "default"}}

	fwd := NewConditionalForwarder([]ConditionalRoute{{Suffix: "corp.example.com", Resolver: corp}}, def)

	req := dns.Packet{Questions: []dns.Question{{Name: "corp.example.com"}}}
	res, err := fwd.Resolve(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "corp", res.Source)
}

func TestConditionalForwarder_NoQuestionUsesDefault(t *testing.T) {
	def := &mockResolver{result: Result{ResponseBytes: []byte{2}, Source: "default"}}
	fwd := NewConditionalForwarder(nil, def)

	res, err := fwd.Resolve(context.Background(), dns.Packet{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "default", res.Source)
}

func TestConditionalForwarder_CloseDeduplicatesSharedResolver(t *testing.T) {
	shared := &mockResolver{result: Result{Source: "shared"}}

	fwd := NewConditionalForwarder([]ConditionalRoute{
		{Suffix: "a.example.com", Resolver: shared},
		{Suffix: "b.example.com", Resolver: shared},
	}, shared)

	err := fwd.Close()
	require.NoError(t, err)
	assert.True(t, shared.closed)
}

func TestConditionalForwarder_NoRouteNoDefaultErrors(t *testing.T) {
	fwd := NewConditionalForwarder(nil, nil)
	req := dns.Packet{Questions: []dns.Question{{Name: "example.com"}}}

	_, err := fwd.Resolve(context.Background(), req, nil)
	assert.Error(t, err)
}
