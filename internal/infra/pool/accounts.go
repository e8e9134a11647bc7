// Package pool manages the two account multisets (ready-to-use and
// captcha-pending) and the proxy roster that workers draw from. The
// scheduler is the only caller that dequeues or enqueues accounts; workers
// observe their own bound account only.
package pool

import (
	"sync"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

// Accounts is the thread-safe account multiset: a ready ("extra")
// queue workers can swap into, and a captcha queue holding accounts
// pending challenge resolution.
type Accounts struct {
	mu      sync.Mutex
	ready   []domain.Account
	captcha []domain.Account
}

// NewAccounts returns an empty account pool.
func NewAccounts() *Accounts {
	return &Accounts{}
}

// Seed loads the initial account roster into the ready queue.
func (a *Accounts) Seed(accounts []domain.Account) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready = append(a.ready[:0], accounts...)
}

// Next pops the head of the ready queue for assignment to a worker or a
// swap. ok is false when the pool is exhausted.
func (a *Accounts) Next() (domain.Account, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.ready) == 0 {
		return domain.Account{}, false
	}
	acc := a.ready[0]
	a.ready = a.ready[1:]
	return acc, true
}

// Requeue returns an account to the tail of the ready queue.
func (a *Accounts) Requeue(acc domain.Account) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready = append(a.ready, acc)
}

// Captcha moves an account to the tail of the captcha queue.
func (a *Accounts) Captcha(acc domain.Account) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc.AuthState = domain.AccountCaptcha
	a.captcha = append(a.captcha, acc)
}

// ResolveCaptcha removes username from the captcha queue and
// returns it to the ready queue, as happens after a solved challenge.
func (a *Accounts) ResolveCaptcha(username string) (domain.Account, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, acc := range a.captcha {
		if acc.Username == username {
			a.captcha = append(a.captcha[:i], a.captcha[i+1:]...)
			acc.AuthState = domain.AccountReady
			a.ready = append(a.ready, acc)
			return acc, true
		}
	}
	return domain.Account{}, false
}

// ReadyLen returns the number of accounts available for assignment.
func (a *Accounts) ReadyLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ready)
}

// CaptchaLen returns the number of accounts pending captcha resolution —
// the value the scheduler compares against MAX_CAPTCHAS to decide whether
// to pause.
func (a *Accounts) CaptchaLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.captcha)
}
