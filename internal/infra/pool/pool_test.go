package pool

import (
	"testing"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

func TestAccounts_SeedAndNext(t *testing.T) {
	a := NewAccounts()
	a.Seed([]domain.Account{{Username: "a"}, {Username: "b"}})

	acc, ok := a.Next()
	if !ok || acc.Username != "a" {
		t.Fatalf("Next() = %+v, %v, want a", acc, ok)
	}
	if a.ReadyLen() != 1 {
		t.Fatalf("ReadyLen() = %d, want 1", a.ReadyLen())
	}
}

func TestAccounts_NextExhausted(t *testing.T) {
	a := NewAccounts()
	if _, ok := a.Next(); ok {
		t.Fatal("Next() on empty pool should report false")
	}
}

func TestAccounts_CaptchaRoundTrip(t *testing.T) {
	a := NewAccounts()
	a.Captcha(domain.Account{Username: "c"})
	if a.CaptchaLen() != 1 {
		t.Fatalf("CaptchaLen() = %d, want 1", a.CaptchaLen())
	}

	acc, ok := a.ResolveCaptcha("c")
	if !ok || acc.AuthState != domain.AccountReady {
		t.Fatalf("ResolveCaptcha() = %+v, %v", acc, ok)
	}
	if a.CaptchaLen() != 0 || a.ReadyLen() != 1 {
		t.Fatalf("after resolve: captcha=%d ready=%d", a.CaptchaLen(), a.ReadyLen())
	}
}

func TestAccounts_Requeue(t *testing.T) {
	a := NewAccounts()
	a.Seed([]domain.Account{{Username: "a"}})
	acc, _ := a.Next()
	a.Requeue(acc)
	if a.ReadyLen() != 1 {
		t.Fatalf("ReadyLen() after requeue = %d, want 1", a.ReadyLen())
	}
}

func TestProxies_RoundRobin(t *testing.T) {
	p := NewProxies([]string{"http://a", "http://b"})
	first, ok := p.Next()
	if !ok {
		t.Fatal("Next() should succeed with configured proxies")
	}
	second, _ := p.Next()
	third, _ := p.Next()
	if first.URL == second.URL {
		t.Fatalf("round robin should alternate, got %s then %s", first.URL, second.URL)
	}
	if third.URL != first.URL {
		t.Fatalf("round robin should wrap, got %s want %s", third.URL, first.URL)
	}
}

func TestProxies_EmptyIsOK(t *testing.T) {
	p := NewProxies(nil)
	if _, ok := p.Next(); ok {
		t.Fatal("Next() on empty proxy pool should report false")
	}
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", p.Len())
	}
}
