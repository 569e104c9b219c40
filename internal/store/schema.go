package store

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'user',
	token_version INTEGER NOT NULL DEFAULT 0,
	force_password_change INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	provider_id TEXT NOT NULL DEFAULT '',
	encrypted_api_key TEXT NOT NULL DEFAULT '',
	reasoning_model TEXT NOT NULL DEFAULT '',
	utility_model TEXT NOT NULL DEFAULT '',
	deep_thinking_model TEXT NOT NULL DEFAULT '',
	age INTEGER NOT NULL DEFAULT 0,
	sex TEXT NOT NULL DEFAULT '',
	height_cm REAL NOT NULL DEFAULT 0,
	weight_kg REAL NOT NULL DEFAULT 0,
	goal_weight_kg REAL NOT NULL DEFAULT 0,
	height_unit TEXT NOT NULL DEFAULT 'cm',
	weight_unit TEXT NOT NULL DEFAULT 'kg',
	hydration_unit TEXT NOT NULL DEFAULT 'ml',
	timezone TEXT NOT NULL DEFAULT 'UTC',
	medical_conditions TEXT NOT NULL DEFAULT '[]',
	dietary_preferences TEXT NOT NULL DEFAULT '[]',
	health_goals TEXT NOT NULL DEFAULT '[]',
	family_history TEXT NOT NULL DEFAULT '[]',
	medications TEXT NOT NULL DEFAULT '[]',
	supplements TEXT NOT NULL DEFAULT '[]',
	specialist_overrides TEXT NOT NULL DEFAULT '{}',
	usage_reset_at TEXT,
	intake_completed_at TEXT,
	intake_skipped_at TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	image_ref TEXT NOT NULL DEFAULT '',
	specialist TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	tokens_in INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages(user_id, created_at);

CREATE TABLE IF NOT EXISTS food_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	items TEXT NOT NULL DEFAULT '[]',
	meal_label TEXT NOT NULL DEFAULT '',
	calories REAL NOT NULL DEFAULT 0,
	protein_g REAL NOT NULL DEFAULT 0,
	carbs_g REAL NOT NULL DEFAULT 0,
	fat_g REAL NOT NULL DEFAULT 0,
	sodium_mg REAL NOT NULL DEFAULT 0,
	meal_template_id INTEGER REFERENCES meal_templates(id) ON DELETE SET NULL,
	logged_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_food_logs_user_logged ON food_logs(user_id, logged_at);

CREATE TABLE IF NOT EXISTS hydration_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	amount_ml REAL NOT NULL,
	logged_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hydration_logs_user_logged ON hydration_logs(user_id, logged_at);

CREATE TABLE IF NOT EXISTS vitals_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	bp_systolic INTEGER,
	bp_diastolic INTEGER,
	heart_rate INTEGER,
	weight_kg REAL,
	logged_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vitals_logs_user_logged ON vitals_logs(user_id, logged_at);

CREATE TABLE IF NOT EXISTS exercise_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	exercise_type TEXT NOT NULL DEFAULT '',
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	intensity TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	logged_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exercise_logs_user_logged ON exercise_logs(user_id, logged_at);

CREATE TABLE IF NOT EXISTS supplement_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	items TEXT NOT NULL DEFAULT '[]',
	logged_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_supplement_logs_user_logged ON supplement_logs(user_id, logged_at);

CREATE TABLE IF NOT EXISTS fasting_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	fast_start TEXT NOT NULL,
	fast_end TEXT,
	duration_minutes INTEGER
);
CREATE INDEX IF NOT EXISTS idx_fasting_logs_user_start ON fasting_logs(user_id, fast_start);
CREATE UNIQUE INDEX IF NOT EXISTS idx_fasting_logs_single_open ON fasting_logs(user_id) WHERE fast_end IS NULL;

CREATE TABLE IF NOT EXISTS sleep_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	sleep_start TEXT NOT NULL,
	sleep_end TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	quality TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sleep_logs_user_end ON sleep_logs(user_id, sleep_end);

CREATE TABLE IF NOT EXISTS meal_templates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	aliases TEXT NOT NULL DEFAULT '[]',
	ingredients TEXT NOT NULL DEFAULT '[]',
	base_servings REAL NOT NULL DEFAULT 1,
	calories REAL NOT NULL DEFAULT 0,
	protein_g REAL NOT NULL DEFAULT 0,
	carbs_g REAL NOT NULL DEFAULT 0,
	fat_g REAL NOT NULL DEFAULT 0,
	sodium_mg REAL NOT NULL DEFAULT 0,
	is_archived INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_meal_templates_user ON meal_templates(user_id, name);

CREATE TABLE IF NOT EXISTS meal_template_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id INTEGER NOT NULL REFERENCES meal_templates(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_template_versions ON meal_template_versions(template_id, version);

CREATE TABLE IF NOT EXISTS meal_response_signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	template_id INTEGER REFERENCES meal_templates(id) ON DELETE SET NULL,
	food_log_id INTEGER REFERENCES food_logs(id) ON DELETE SET NULL,
	energy_level TEXT NOT NULL DEFAULT '',
	gi_comfort TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	signal_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_checklist_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	target_date TEXT NOT NULL,
	item_type TEXT NOT NULL,
	item_name TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	UNIQUE(user_id, target_date, item_type, item_name)
);

CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	category TEXT NOT NULL DEFAULT 'info',
	title TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}',
	is_read INTEGER NOT NULL DEFAULT 0,
	read_at TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, is_read, created_at);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	run_type TEXT NOT NULL,
	period_start TEXT NOT NULL,
	period_end TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	trigger_source TEXT NOT NULL DEFAULT '',
	metrics TEXT NOT NULL DEFAULT '{}',
	missing_data TEXT NOT NULL DEFAULT '[]',
	risk_flags TEXT NOT NULL DEFAULT '[]',
	synthesis TEXT NOT NULL DEFAULT '{}',
	summary_markdown TEXT NOT NULL DEFAULT '',
	models_used TEXT NOT NULL DEFAULT '{}',
	confidence REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(user_id, run_type, period_start, period_end)
);

CREATE TABLE IF NOT EXISTS analysis_proposals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	proposal_kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	title TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}',
	merge_trace TEXT NOT NULL DEFAULT '[]',
	merged_count INTEGER NOT NULL DEFAULT 0,
	reviewer_id INTEGER,
	review_note TEXT NOT NULL DEFAULT '',
	reviewed_at TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_user_status ON analysis_proposals(user_id, status);

CREATE TABLE IF NOT EXISTS health_frameworks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	framework_type TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 50,
	is_active INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_frameworks_user_active ON health_frameworks(user_id, is_active);

CREATE TABLE IF NOT EXISTS goals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	target_date TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_goals_user_status ON goals(user_id, status);

CREATE TABLE IF NOT EXISTS exercise_plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	plan TEXT NOT NULL DEFAULT '{}',
	is_active INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	plan_id INTEGER REFERENCES exercise_plans(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	title TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	specialist TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ai_turn_telemetry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	category TEXT NOT NULL DEFAULT '',
	specialist TEXT NOT NULL DEFAULT '',
	utility_calls INTEGER NOT NULL DEFAULT 0,
	reasoning_calls INTEGER NOT NULL DEFAULT 0,
	deep_calls INTEGER NOT NULL DEFAULT 0,
	tokens_utility_in INTEGER NOT NULL DEFAULT 0,
	tokens_utility_out INTEGER NOT NULL DEFAULT 0,
	tokens_reasoning_in INTEGER NOT NULL DEFAULT 0,
	tokens_reasoning_out INTEGER NOT NULL DEFAULT 0,
	tokens_deep_in INTEGER NOT NULL DEFAULT 0,
	tokens_deep_out INTEGER NOT NULL DEFAULT 0,
	first_token_ms INTEGER NOT NULL DEFAULT 0,
	total_ms INTEGER NOT NULL DEFAULT 0,
	failures TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS request_telemetry_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	detail TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
`
