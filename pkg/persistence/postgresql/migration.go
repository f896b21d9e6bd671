package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Providers, tasks and executions
			CREATE TABLE providers (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				workflow_id VARCHAR(255) NOT NULL,
				api_key TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT true,
				status VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'error', 'syncing')),
				status_message TEXT NOT NULL DEFAULT '',
				last_status_check TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_providers_name ON providers(name);
			CREATE INDEX idx_providers_workflow_id ON providers(workflow_id);
			CREATE INDEX idx_providers_status ON providers(is_active, status);

			CREATE TABLE tasks (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				provider_id BIGINT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
				input_schema JSONB,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_tasks_provider_name ON tasks(provider_id, name);

			CREATE TABLE task_executions (
				id BIGSERIAL PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL UNIQUE,
				run_id_adopted BOOLEAN NOT NULL DEFAULT false,
				task_id BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				start_time TIMESTAMP WITH TIME ZONE,
				end_time TIMESTAMP WITH TIME ZONE,
				duration INTEGER,
				tokens INTEGER,
				input JSONB NOT NULL DEFAULT '{}',
				output JSONB,
				track JSONB,
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_task_executions_task_id ON task_executions(task_id);
			CREATE INDEX idx_task_executions_status ON task_executions(status);
			CREATE INDEX idx_task_executions_created_at ON task_executions(created_at);
		`,
		2: `
			-- Append-only stream event store
			CREATE TABLE workflow_stream_events (
				id BIGSERIAL PRIMARY KEY,
				task_execution_id BIGINT NOT NULL REFERENCES task_executions(id) ON DELETE CASCADE,
				sequence INTEGER NOT NULL,
				event_type VARCHAR(255) NOT NULL,
				task_id VARCHAR(255),
				workflow_run_id VARCHAR(255),
				node_id VARCHAR(255),
				event_data JSONB NOT NULL,
				event_timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (task_execution_id, sequence)
			);

			CREATE INDEX idx_stream_events_execution_type ON workflow_stream_events(task_execution_id, event_type);
			CREATE INDEX idx_stream_events_run_id ON workflow_stream_events(workflow_run_id);
			CREATE INDEX idx_stream_events_timestamp ON workflow_stream_events(event_timestamp);
		`,
		3: `
			-- Webhook delivery attempts
			CREATE TABLE webhook_attempts (
				id BIGSERIAL PRIMARY KEY,
				task_execution_id BIGINT NOT NULL REFERENCES task_executions(id) ON DELETE CASCADE,
				webhook_url TEXT NOT NULL,
				payload JSONB NOT NULL,
				http_status INTEGER,
				response_body TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				response_time_ms NUMERIC(10, 2) NOT NULL DEFAULT 0,
				attempt_number INTEGER NOT NULL DEFAULT 1,
				status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'success', 'failed')),
				attempted_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_webhook_attempts_execution ON webhook_attempts(task_execution_id, attempt_number);
			CREATE INDEX idx_webhook_attempts_status ON webhook_attempts(status);
		`,
	}
}
