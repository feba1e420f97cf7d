package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE bpm_processes (
				id VARCHAR(255) PRIMARY KEY,
				company_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				steps JSONB NOT NULL DEFAULT '[]',
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				is_template BOOLEAN NOT NULL DEFAULT false,
				version VARCHAR(50) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_by VARCHAR(255),
				updated_by VARCHAR(255)
			);

			CREATE INDEX idx_bpm_processes_company_status ON bpm_processes(company_id, status);

			CREATE TABLE bpm_triggers (
				id VARCHAR(255) PRIMARY KEY,
				process_id VARCHAR(255) NOT NULL REFERENCES bpm_processes(id) ON DELETE CASCADE,
				company_id VARCHAR(255) NOT NULL,
				type VARCHAR(20) NOT NULL CHECK (type IN ('scheduled', 'event', 'data_change', 'manual', 'webhook')),
				condition JSONB,
				is_active BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_by VARCHAR(255),
				updated_by VARCHAR(255)
			);

			CREATE INDEX idx_bpm_triggers_process ON bpm_triggers(process_id);
			CREATE INDEX idx_bpm_triggers_active ON bpm_triggers(company_id, type) WHERE is_active;

			CREATE TABLE bpm_process_instances (
				id VARCHAR(255) PRIMARY KEY,
				process_id VARCHAR(255) NOT NULL REFERENCES bpm_processes(id),
				company_id VARCHAR(255) NOT NULL,
				snapshot JSONB NOT NULL,
				trigger_id VARCHAR(255),
				parent_instance_id VARCHAR(255),
				parent_execution_id VARCHAR(255),
				context_data JSONB NOT NULL DEFAULT '{}',
				current_step VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'waiting_approval', 'completed', 'failed', 'cancelled')),
				suspension JSONB,
				resume_at TIMESTAMP WITH TIME ZONE,
				error JSONB,
				cancel_reason TEXT NOT NULL DEFAULT '',
				revision BIGINT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_by VARCHAR(255),
				updated_by VARCHAR(255),
				CHECK ((completed_at IS NULL) = (status IN ('running', 'waiting_approval')))
			);

			CREATE INDEX idx_bpm_instances_process ON bpm_process_instances(process_id);
			CREATE INDEX idx_bpm_instances_company_status ON bpm_process_instances(company_id, status);
			CREATE INDEX idx_bpm_instances_resume_at ON bpm_process_instances(resume_at) WHERE resume_at IS NOT NULL;

			CREATE TABLE bpm_step_executions (
				id VARCHAR(255) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL REFERENCES bpm_process_instances(id) ON DELETE CASCADE,
				company_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				step_type VARCHAR(50) NOT NULL,
				attempt INT NOT NULL DEFAULT 1,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'skipped')),
				input_data JSONB,
				output_data JSONB,
				error_data JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_bpm_step_executions_instance ON bpm_step_executions(instance_id, started_at);
			CREATE UNIQUE INDEX uq_bpm_step_executions_active
				ON bpm_step_executions(instance_id, step_id)
				WHERE status IN ('pending', 'running');

			CREATE TABLE bpm_approvals (
				id VARCHAR(255) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL REFERENCES bpm_process_instances(id) ON DELETE CASCADE,
				execution_id VARCHAR(255) NOT NULL UNIQUE REFERENCES bpm_step_executions(id) ON DELETE CASCADE,
				company_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				approver_user_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
				comments TEXT NOT NULL DEFAULT '',
				responded_by VARCHAR(255) NOT NULL DEFAULT '',
				requested_at TIMESTAMP WITH TIME ZONE NOT NULL,
				responded_at TIMESTAMP WITH TIME ZONE,
				reminders_sent TIMESTAMP WITH TIME ZONE[] NOT NULL DEFAULT '{}',
				reminder_interval_ns BIGINT NOT NULL DEFAULT 0,
				expires_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_bpm_approvals_pending ON bpm_approvals(company_id) WHERE status = 'pending';

			CREATE TABLE bpm_scheduled_jobs (
				id VARCHAR(255) PRIMARY KEY,
				company_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				process_id VARCHAR(255) NOT NULL REFERENCES bpm_processes(id) ON DELETE CASCADE,
				trigger_id VARCHAR(255) REFERENCES bpm_triggers(id) ON DELETE SET NULL,
				cron VARCHAR(255) NOT NULL,
				timezone VARCHAR(64) NOT NULL DEFAULT '',
				payload JSONB,
				last_run_at TIMESTAMP WITH TIME ZONE,
				next_run_at TIMESTAMP WITH TIME ZONE,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_by VARCHAR(255),
				updated_by VARCHAR(255)
			);

			CREATE INDEX idx_bpm_scheduled_jobs_due ON bpm_scheduled_jobs(next_run_at) WHERE is_active;
			CREATE INDEX idx_bpm_scheduled_jobs_trigger ON bpm_scheduled_jobs(trigger_id);

			CREATE TABLE bpm_step_templates (
				id VARCHAR(255) PRIMARY KEY,
				company_id VARCHAR(255) NOT NULL DEFAULT '',
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				type VARCHAR(50) NOT NULL,
				config JSONB,
				retry JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_by VARCHAR(255),
				updated_by VARCHAR(255)
			);

			CREATE TABLE bpm_api_connections (
				id VARCHAR(255) PRIMARY KEY,
				company_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				base_url TEXT NOT NULL,
				headers JSONB,
				timeout_ns BIGINT NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_by VARCHAR(255),
				updated_by VARCHAR(255)
			);
		`,
	}
}
