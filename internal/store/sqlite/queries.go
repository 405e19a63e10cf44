package sqlite

const automationColumns = `
    id, name, template_id, frequency, weekly_days, send_time, timezone,
    start_date, end_date, next_run_at, last_run_at, retired, created_at, updated_at`

const runColumns = `id, automation_id, automation_name, scheduled_for, status, error, created_at`

const queryInsertAssociate = `
INSERT INTO associates (id, name, email, timezone, role, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`

const queryListAssociates = `
SELECT id, name, email, timezone, role, created_at
FROM associates
ORDER BY name, id
LIMIT ? OFFSET ?
`

const queryGetAssociateByEmail = `
SELECT id, name, email, timezone, role, created_at
FROM associates
WHERE email = ?
`

const queryInsertTemplate = `
INSERT INTO templates (id, title, subject, headline, summary, body, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const queryInsertTemplateTask = `
INSERT INTO template_tasks (template_id, position, title, detail) VALUES (?, ?, ?, ?)
`

const queryInsertTemplateLink = `
INSERT INTO template_links (template_id, position, label, url) VALUES (?, ?, ?, ?)
`

const queryGetTemplate = `
SELECT id, title, subject, headline, summary, body, created_at
FROM templates
WHERE id = ?
`

const queryGetTemplateByTitle = `
SELECT id, title, subject, headline, summary, body, created_at
FROM templates
WHERE title = ?
ORDER BY created_at DESC
LIMIT 1
`

const queryListTemplates = `
SELECT id, title, subject, headline, summary, body, created_at
FROM templates
ORDER BY created_at DESC, id
LIMIT ? OFFSET ?
`

const queryTemplateTasks = `
SELECT title, detail FROM template_tasks WHERE template_id = ? ORDER BY position
`

const queryTemplateLinks = `
SELECT label, url FROM template_links WHERE template_id = ? ORDER BY position
`

const queryInsertAutomation = `
INSERT INTO automations (` + automationColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryInsertAutomationAssociate = `
INSERT INTO automation_associates (automation_id, associate_id) VALUES (?, ?)
`

const queryDeleteAutomationAssociates = `
DELETE FROM automation_associates WHERE automation_id = ?
`

const queryAutomationAssociates = `
SELECT associate_id FROM automation_associates WHERE automation_id = ? ORDER BY associate_id
`

const queryGetAutomation = `SELECT ` + automationColumns + ` FROM automations WHERE id = ?`

const queryListAutomations = `
SELECT ` + automationColumns + `
FROM automations
ORDER BY created_at DESC, id
LIMIT ? OFFSET ?
`

// Editing the recurrence discards the computed schedule; the engine
// re-initializes it on its next pass.
const queryUpdateAutomation = `
UPDATE automations
SET name = ?, template_id = ?, frequency = ?, weekly_days = ?, send_time = ?, timezone = ?,
    start_date = ?, end_date = ?, next_run_at = NULL, retired = 0, updated_at = ?
WHERE id = ?
`

const queryDeleteAutomation = `DELETE FROM automations WHERE id = ?`

const queryDueAutomations = `
SELECT ` + automationColumns + `
FROM automations
WHERE retired = 0
  AND (next_run_at IS NULL OR next_run_at <= ?)
ORDER BY next_run_at IS NOT NULL, next_run_at, id
`

const queryInitializeNextRun = `
UPDATE automations
SET next_run_at = ?, retired = ?, updated_at = ?
WHERE id = ? AND next_run_at IS NULL AND retired = 0
`

const queryClaimOccurrence = `
UPDATE automations
SET next_run_at = ?, last_run_at = ?, retired = ?, updated_at = ?
WHERE id = ? AND next_run_at = ? AND retired = 0
`

const queryInsertRun = `
INSERT INTO runs (` + runColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const queryListRuns = `
SELECT ` + runColumns + `
FROM runs
ORDER BY created_at DESC, scheduled_for DESC, id
LIMIT ? OFFSET ?
`

const queryListAutomationRuns = `
SELECT ` + runColumns + `
FROM runs
WHERE automation_id = ?
ORDER BY scheduled_for DESC
LIMIT ? OFFSET ?
`

const queryDashboardCounts = `
SELECT
    (SELECT COUNT(*) FROM associates),
    (SELECT COUNT(*) FROM templates),
    (SELECT COUNT(*) FROM automations),
    (SELECT COUNT(*) FROM automations WHERE retired = 0),
    (SELECT COUNT(*) FROM runs WHERE status = 'sent'),
    (SELECT COUNT(*) FROM runs WHERE status = 'failed')
`
