package sqlinline

const jobColumns = `id, status, current_step, step_name, step_progress, overall_progress,
    message, error, output_id, input_data, created_at, started_at, completed_at, updated_at`

const QInsertJob = `--sql 5e2a666a-fdaa-4c94-9804-bea82c946ec3
insert into jobs (id, status, input_data)
values ($1, 'queued', $2)
returning ` + jobColumns + `;
`

const QSelectJob = `--sql 919a005d-fb42-4b15-bbf2-69dc080559f0
select ` + jobColumns + `
from jobs
where id = $1;
`

// QPatchJob leaves every NULL parameter at its stored value.
const QPatchJob = `--sql e112f172-5851-448e-8eca-7b7e0b2c007b
update jobs
set status = coalesce($2, status),
    current_step = coalesce($3, current_step),
    step_name = coalesce($4, step_name),
    step_progress = coalesce($5, step_progress),
    overall_progress = coalesce($6, overall_progress),
    message = coalesce($7, message),
    error = coalesce($8, error),
    started_at = coalesce($9, started_at),
    updated_at = now()
where id = $1
  and status in ('queued', 'running');
`

const QCompleteJob = `--sql e319e927-fef5-4463-bbf0-86f655a36f38
update jobs
set status = 'completed',
    output_id = $2,
    overall_progress = 100,
    step_progress = 100,
    completed_at = now(),
    updated_at = now()
where id = $1
  and status = 'running';
`

const QFailJob = `--sql 1c197cb9-a028-4bb4-abae-461e6a45b4dc
update jobs
set status = 'error',
    error = $2,
    overall_progress = least(greatest(overall_progress, 0), 100),
    step_progress = least(greatest(step_progress, 0), 100),
    completed_at = now(),
    updated_at = now()
where id = $1
  and status in ('queued', 'running');
`

const QClaimQueuedJob = `--sql d65c06d8-aa41-4a2b-bd54-535deb8a07fe
with next_job as (
    select id
    from jobs
    where status = 'queued'
    order by created_at asc
    for update skip locked
    limit 1
)
update jobs
set status = 'running',
    started_at = coalesce(started_at, now()),
    updated_at = now()
where id in (select id from next_job)
returning ` + jobColumns + `;
`

const QReapStaleJobs = `--sql b7b22d8b-27c8-4881-a267-03274d962bdc
update jobs
set status = 'error',
    error = $2,
    completed_at = now(),
    updated_at = now()
where status = 'running'
  and updated_at < now() - make_interval(secs => $1::double precision);
`
