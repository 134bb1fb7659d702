package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USERS AND LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT NOT NULL,
    display_name VARCHAR(64) NOT NULL,
    total_points BIGINT NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_login_date DATE,
    referral_code VARCHAR(16) NOT NULL,
    referred_by TEXT,
    recognized BOOLEAN NOT NULL DEFAULT FALSE,
    recognition_reason TEXT NOT NULL DEFAULT '',
    recognized_at TIMESTAMP WITH TIME ZONE,
    trade_volume NUMERIC(24, 6) NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT users_pkey PRIMARY KEY (id),
    CONSTRAINT users_referral_code_key UNIQUE (referral_code),
    CONSTRAINT users_referred_by_fkey FOREIGN KEY (referred_by) REFERENCES users(id),
    CONSTRAINT users_streak_check CHECK (current_streak >= 0 AND longest_streak >= current_streak),
    CONSTRAINT users_no_self_referral CHECK (referred_by IS NULL OR referred_by <> id)
);

-- all-time leaderboard
CREATE INDEX IF NOT EXISTS idx_users_total_points ON users(total_points DESC, created_at ASC) WHERE total_points > 0;

CREATE TABLE IF NOT EXISTS ledger_entries (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id),
    delta BIGINT NOT NULL,
    kind VARCHAR(32) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL
);

-- daily limit counts and per-kind sums
CREATE INDEX IF NOT EXISTS idx_ledger_user_kind_created ON ledger_entries(user_id, kind, created_at);
-- windowed leaderboards
CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_entries(created_at);
-- history pages
CREATE INDEX IF NOT EXISTS idx_ledger_user_created ON ledger_entries(user_id, created_at DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS ledger_entries;
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS achievements (
    id UUID PRIMARY KEY,
    slug VARCHAR(100) NOT NULL,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    reward BIGINT NOT NULL,
    category VARCHAR(20) NOT NULL,
    requirement JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT achievements_name_key UNIQUE (name),
    CONSTRAINT achievements_slug_key UNIQUE (slug),
    CONSTRAINT achievements_reward_check CHECK (reward >= 0),
    CONSTRAINT achievements_category_check CHECK (category IN ('trading', 'social', 'streak', 'referral', 'milestone'))
);

CREATE TABLE IF NOT EXISTS achievement_unlocks (
    user_id TEXT NOT NULL REFERENCES users(id),
    achievement_id UUID NOT NULL REFERENCES achievements(id) ON DELETE CASCADE,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (user_id, achievement_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS achievement_unlocks;
DROP TABLE IF EXISTS achievements;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: REFERRALS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS referrals (
    referred_id TEXT NOT NULL REFERENCES users(id),
    referrer_id TEXT NOT NULL REFERENCES users(id),
    code VARCHAR(16) NOT NULL,
    bound_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT referrals_pkey PRIMARY KEY (referred_id),
    CONSTRAINT referrals_no_self CHECK (referred_id <> referrer_id)
);

CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id, bound_at);
`

const migration003Down = `
DROP TABLE IF EXISTS referrals;
`

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_users_and_ledger", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_achievements", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_referrals", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}
