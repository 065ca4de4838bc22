package scheduler

// Package scheduler fills the upcoming days' posting slots from the
// approved content pool, spreading source platforms as evenly as the
// pool allows. Diversity is best-effort: a pool dominated by one
// platform still fills every slot.
