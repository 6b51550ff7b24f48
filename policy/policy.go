// Package policy decides the assistant's reply and reward grant for a user
// message. Policies are pure decision functions: applying the reward is the
// pipeline's job.
package policy

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// Decision is the outcome for one user message. Reward is always >= 0; zero
// means no grant.
type Decision struct {
	Text   string
	Reward int
}

// Policy maps a user message and the user's current balance to a decision.
// Implementations must be total: any input, including garbage, yields a
// non-empty reply.
type Policy interface {
	Respond(text string, balance int) Decision
}

// rewardTiers are the possible grant amounts when a reward fires.
var rewardTiers = []int{50, 100, 150, 200}

type rule struct {
	keywords []string
	respond  func(balance int) string
}

// Neko is the default policy: keyword rules first, then a random phrase from
// a fixed set, with a probabilistic coin grant appended.
type Neko struct {
	chance float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewNeko creates the default policy. chance is the probability of a reward
// per message; seed makes the random choices reproducible in tests.
func NewNeko(chance float64, seed uint64) *Neko {
	return &Neko{
		chance: chance,
		rnd:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

var nekoRules = []rule{
	{
		keywords: []string{"halo", "hai", "hello"},
		respond: func(int) string {
			return "Halo Meng! Ada yang bisa Neko bantu?"
		},
	},
	{
		keywords: []string{"makasih", "terima kasih", "thanks"},
		respond: func(int) string {
			return "Sama-sama Meng! Neko seneng bisa bantu."
		},
	},
	{
		keywords: []string{"koin", "coin", "saldo"},
		respond: func(balance int) string {
			return fmt.Sprintf("Koin lo sekarang %d Meng. Mau nambah?", balance)
		},
	},
}

var nekoFallbacks = []string{
	"Waduh, Neko lagi mikir keras nih...",
	"Hmm, gimana ya? Kasih alasan yang lebih bagus dong!",
	"Astaga, kreatif juga lo!",
	"Neko suka sama alasan lo!",
	"Maap Meng, alasan lo kurang greget. Coba lagi!",
}

// Respond picks a reply by case-insensitive keyword match, falling back to a
// random phrase, and rolls for a coin grant.
func (n *Neko) Respond(text string, balance int) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))

	var reply string
	for _, r := range nekoRules {
		for _, kw := range r.keywords {
			if strings.Contains(normalized, kw) {
				reply = r.respond(balance)
				break
			}
		}
		if reply != "" {
			break
		}
	}

	n.mu.Lock()
	if reply == "" {
		reply = nekoFallbacks[n.rnd.IntN(len(nekoFallbacks))]
	}

	var grant int
	if n.rnd.Float64() < n.chance {
		grant = rewardTiers[n.rnd.IntN(len(rewardTiers))]
	}
	n.mu.Unlock()

	if grant > 0 {
		reply = fmt.Sprintf("%s Dapet %d koin!", reply, grant)
	}

	return Decision{Text: reply, Reward: grant}
}
