package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE tasks (
				id UUID PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				business_id VARCHAR(255) NOT NULL,
				template_id VARCHAR(255),
				status VARCHAR(50) NOT NULL,
				priority VARCHAR(50) NOT NULL,
				deadline TIMESTAMP WITH TIME ZONE,
				metadata JSONB,
				partial_success BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_tasks_status ON tasks(status);
			CREATE INDEX idx_tasks_user_id ON tasks(user_id);
			CREATE INDEX idx_tasks_business_id ON tasks(business_id);
			CREATE INDEX idx_tasks_created_at ON tasks(created_at);

			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				task_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				plan JSONB,
				current_step VARCHAR(255),
				completed_steps JSONB,
				assignments JSONB,
				variables JSONB,
				status VARCHAR(50) NOT NULL,
				is_paused BOOLEAN NOT NULL DEFAULT FALSE,
				paused_at TIMESTAMP WITH TIME ZONE,
				pause_reason TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_task_id ON executions(task_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_is_paused ON executions(is_paused);

			CREATE TABLE pause_points (
				id UUID PRIMARY KEY,
				task_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				execution_id UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				pause_type VARCHAR(50) NOT NULL,
				reason TEXT,
				required_action TEXT,
				required_data JSONB,
				phase_name VARCHAR(255),
				subtask_id VARCHAR(255),
				resume_token VARCHAR(255) NOT NULL UNIQUE,
				expires_at TIMESTAMP WITH TIME ZONE,
				resumed BOOLEAN NOT NULL DEFAULT FALSE,
				resumed_at TIMESTAMP WITH TIME ZONE,
				resume_data JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_pause_points_task_id ON pause_points(task_id);
			CREATE INDEX idx_pause_points_execution_id ON pause_points(execution_id);
			CREATE INDEX idx_pause_points_resumed ON pause_points(resumed);

			CREATE TABLE context_entries (
				id UUID PRIMARY KEY,
				task_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				sequence BIGINT NOT NULL,
				actor VARCHAR(255) NOT NULL,
				operation VARCHAR(255) NOT NULL,
				data JSONB,
				reasoning TEXT,
				triggered_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (task_id, sequence)
			);

			CREATE INDEX idx_context_entries_task_id ON context_entries(task_id);

			CREATE TABLE agent_messages (
				id UUID PRIMARY KEY,
				from_role VARCHAR(255) NOT NULL,
				to_role VARCHAR(255) NOT NULL,
				message_type VARCHAR(50) NOT NULL,
				priority VARCHAR(50),
				correlation_id VARCHAR(255),
				task_id VARCHAR(255),
				payload JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				delivered_at TIMESTAMP WITH TIME ZONE,
				delivery_attempts INT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_agent_messages_delivered_at ON agent_messages(delivered_at);
			CREATE INDEX idx_agent_messages_task_id ON agent_messages(task_id);
		`,
	}
}
