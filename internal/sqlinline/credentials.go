package sqlinline

const QSelectProviderCredential = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from provider_credentials
where key = $1::text
limit 1;
`

const QUpsertProviderCredential = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
insert into provider_credentials (key, token, properties, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now())
on conflict (key) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
