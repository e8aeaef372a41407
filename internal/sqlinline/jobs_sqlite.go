package sqlinline

// SQLite statements store timestamps as unix milliseconds and bind them explicitly.

const QSQLiteInsertJob = `--sql 144fa8ab-0f6b-4409-8094-e3c91beff618
insert into jobs (id, status, input_data, created_at, updated_at)
values (?, 'queued', ?, ?, ?);
`

const QSQLiteSelectJob = `--sql 6f0e0a57-8d38-4a0f-9a51-4d0f2b7c1e92
select ` + jobColumns + `
from jobs
where id = ?;
`

const QSQLitePatchJob = `--sql 0c6d9f4e-1a53-4b8e-a0f2-3e7c5d92b1a4
update jobs
set status = coalesce(?, status),
    current_step = coalesce(?, current_step),
    step_name = coalesce(?, step_name),
    step_progress = coalesce(?, step_progress),
    overall_progress = coalesce(?, overall_progress),
    message = coalesce(?, message),
    error = coalesce(?, error),
    started_at = coalesce(?, started_at),
    updated_at = ?
where id = ?
  and status in ('queued', 'running');
`

const QSQLiteCompleteJob = `--sql 9b1e4c27-5d3a-4f60-8e2b-7a4c1d0f6e35
update jobs
set status = 'completed',
    output_id = ?,
    overall_progress = 100,
    step_progress = 100,
    completed_at = ?,
    updated_at = ?
where id = ?
  and status = 'running';
`

const QSQLiteFailJob = `--sql 3a7d2f91-c4e8-4b05-9d6a-1f8e2c5b7a04
update jobs
set status = 'error',
    error = ?,
    overall_progress = min(max(overall_progress, 0), 100),
    step_progress = min(max(step_progress, 0), 100),
    completed_at = ?,
    updated_at = ?
where id = ?
  and status in ('queued', 'running');
`

const QSQLiteNextQueuedJob = `--sql 5c9e3b80-2f47-4d1a-b6e5-8a0d7f4c2e19
select id
from jobs
where status = 'queued'
order by created_at asc, id asc
limit 1;
`

const QSQLiteStartJob = `--sql d42f8a6c-7b1e-4c93-a5d0-6e9b3f2c8a71
update jobs
set status = 'running',
    started_at = coalesce(started_at, ?),
    updated_at = ?
where id = ?
  and status = 'queued';
`

const QSQLiteReapStaleJobs = `--sql 8e5a1c3d-9f62-4b7e-a0c4-2d6b8f1e5a93
update jobs
set status = 'error',
    error = ?,
    completed_at = ?,
    updated_at = ?
where status = 'running'
  and updated_at < ?;
`
