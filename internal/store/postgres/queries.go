package postgres

const automationColumns = `
    id, name, template_id, frequency, weekly_days, send_time, timezone,
    start_date, end_date, next_run_at, last_run_at, retired, created_at, updated_at`

const runColumns = `id, automation_id, automation_name, scheduled_for, status, error, created_at`

const associateColumns = `id, name, email, timezone, role, created_at`

const templateColumns = `id, title, subject, headline, summary, body, created_at`

const queryInsertAssociate = `
INSERT INTO associates (` + associateColumns + `)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryListAssociates = `
SELECT ` + associateColumns + `
FROM associates
ORDER BY name, id
LIMIT $1 OFFSET $2
`

const queryGetAssociatesByIDs = `
SELECT ` + associateColumns + `
FROM associates
WHERE id = ANY($1::uuid[])
ORDER BY name, id
`

const queryGetAssociateByEmail = `
SELECT ` + associateColumns + `
FROM associates
WHERE email = $1
`

const queryInsertTemplate = `
INSERT INTO templates (` + templateColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryInsertTemplateTask = `
INSERT INTO template_tasks (template_id, position, title, detail) VALUES ($1, $2, $3, $4)
`

const queryInsertTemplateLink = `
INSERT INTO template_links (template_id, position, label, url) VALUES ($1, $2, $3, $4)
`

const queryGetTemplate = `SELECT ` + templateColumns + ` FROM templates WHERE id = $1`

const queryGetTemplateByTitle = `
SELECT ` + templateColumns + `
FROM templates
WHERE title = $1
ORDER BY created_at DESC
LIMIT 1
`

const queryListTemplates = `
SELECT ` + templateColumns + `
FROM templates
ORDER BY created_at DESC, id
LIMIT $1 OFFSET $2
`

const queryTemplateTasks = `
SELECT title, detail FROM template_tasks WHERE template_id = $1 ORDER BY position
`

const queryTemplateLinks = `
SELECT label, url FROM template_links WHERE template_id = $1 ORDER BY position
`

const queryInsertAutomation = `
INSERT INTO automations (` + automationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

const queryInsertAutomationAssociate = `
INSERT INTO automation_associates (automation_id, associate_id) VALUES ($1, $2)
`

const queryDeleteAutomationAssociates = `
DELETE FROM automation_associates WHERE automation_id = $1
`

const queryAutomationAssociates = `
SELECT associate_id FROM automation_associates WHERE automation_id = $1 ORDER BY associate_id
`

const queryGetAutomation = `SELECT ` + automationColumns + ` FROM automations WHERE id = $1`

const queryListAutomations = `
SELECT ` + automationColumns + `
FROM automations
ORDER BY created_at DESC, id
LIMIT $1 OFFSET $2
`

// Editing the recurrence discards the computed schedule; the engine
// re-initializes it on its next pass.
const queryUpdateAutomation = `
UPDATE automations
SET name = $1, template_id = $2, frequency = $3, weekly_days = $4, send_time = $5, timezone = $6,
    start_date = $7, end_date = $8, next_run_at = NULL, retired = FALSE, updated_at = $9
WHERE id = $10
`

const queryDeleteAutomation = `DELETE FROM automations WHERE id = $1`

const queryDueAutomations = `
SELECT ` + automationColumns + `
FROM automations
WHERE NOT retired
  AND (next_run_at IS NULL OR next_run_at <= $1)
ORDER BY next_run_at NULLS FIRST, id
`

const queryInitializeNextRun = `
UPDATE automations
SET next_run_at = $1, retired = $2, updated_at = NOW()
WHERE id = $3 AND next_run_at IS NULL AND NOT retired
`

// Postgres takes the row lock before evaluating WHERE. A concurrent claimer
// blocks until the winner commits, then re-checks next_run_at against the
// committed row and updates nothing.
const queryClaimOccurrence = `
UPDATE automations
SET next_run_at = $1, last_run_at = $2, retired = $3, updated_at = NOW()
WHERE id = $4 AND next_run_at = $2 AND NOT retired
`

const queryInsertRun = `
INSERT INTO runs (` + runColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryListRuns = `
SELECT ` + runColumns + `
FROM runs
ORDER BY created_at DESC, scheduled_for DESC, id
LIMIT $1 OFFSET $2
`

const queryListAutomationRuns = `
SELECT ` + runColumns + `
FROM runs
WHERE automation_id = $1
ORDER BY scheduled_for DESC
LIMIT $2 OFFSET $3
`

const queryDashboardCounts = `
SELECT
    (SELECT COUNT(*) FROM associates),
    (SELECT COUNT(*) FROM templates),
    (SELECT COUNT(*) FROM automations),
    (SELECT COUNT(*) FROM automations WHERE NOT retired),
    (SELECT COUNT(*) FROM runs WHERE status = 'sent'),
    (SELECT COUNT(*) FROM runs WHERE status = 'failed')
`
