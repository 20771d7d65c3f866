package crawler

import (
	"context"
	"testing"
)

type stubResolver struct {
	addrs []string
	err   error
}

func (s stubResolver) LookupHost(context.Context, string) ([]string, error) {
	return s.addrs, s.err
}

func TestFilteringResolverRejectsPrivateByDefault(t *testing.T) {
	r := NewFilteringResolver(stubResolver{addrs: []string{"10.0.0.1"}}, DNSPolicy{})
	_, err := r.Resolve(context.Background(), "intra.example")
	if err == nil {
		t.Fatal("expected InvalidHost for private address with policy disabled")
	}
	if kind, ok := KindOf(err); !ok || kind != ErrKindInvalidHost {
		t.Errorf("kind = %v, ok = %v", kind, ok)
	}
}

func TestFilteringResolverAllowsPrivateWhenPermitted(t *testing.T) {
	r := NewFilteringResolver(stubResolver{addrs: []string{"10.0.0.1", "8.8.8.8"}}, DNSPolicy{PrivateNetworksAllowed: true})
	addrs, err := r.Resolve(context.Background(), "mixed.example")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(addrs) != 2 || addrs[0] != "10.0.0.1" || addrs[1] != "8.8.8.8" {
		t.Errorf("addrs = %v, want order preserved from delegate", addrs)
	}
}

func TestFilteringResolverFiltersPartialList(t *testing.T) {
	r := NewFilteringResolver(stubResolver{addrs: []string{"10.0.0.1", "93.184.216.34"}}, DNSPolicy{})
	addrs, err := r.Resolve(context.Background(), "public.example")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "93.184.216.34" {
		t.Errorf("addrs = %v, want only the public address", addrs)
	}
}

func TestFilteringResolverLiteralIP(t *testing.T) {
	r := NewFilteringResolver(stubResolver{}, DNSPolicy{})
	_, err := r.Resolve(context.Background(), "127.0.0.1")
	if err == nil {
		t.Fatal("expected loopback literal IP rejected by default policy")
	}
}

func TestFilteringResolverLoopbackAllowed(t *testing.T) {
	r := NewFilteringResolver(stubResolver{}, DNSPolicy{LoopbackAllowed: true})
	addrs, err := r.Resolve(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "127.0.0.1" {
		t.Errorf("addrs = %v", addrs)
	}
}

func TestFilteringResolverCGNAT(t *testing.T) {
	r := NewFilteringResolver(stubResolver{}, DNSPolicy{})
	_, err := r.Resolve(context.Background(), "100.64.0.5")
	if err == nil {
		t.Fatal("expected CGNAT address rejected by default policy")
	}
}
