package sqlitequeue

// Times are stored as unix milliseconds, compared with the client clock
const (
	createObjects = `
CREATE TABLE IF NOT EXISTS "message" (
    "id" TEXT PRIMARY KEY,
    "queue" TEXT NOT NULL,
    "body" BLOB NOT NULL,
    "receipt" TEXT,
    "dequeue_count" INTEGER NOT NULL DEFAULT 0,
    "enqueued_at" INTEGER NOT NULL,
    "visible_at" INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS "message_queue_visible_at" ON "message" ("queue", "visible_at");
CREATE TABLE IF NOT EXISTS "lock" (
    "name" TEXT PRIMARY KEY,
    "owner" TEXT NOT NULL,
    "expires_at" INTEGER NOT NULL
);`

	messageSend = `
INSERT INTO "message" ("id", "queue", "body", "enqueued_at", "visible_at")
VALUES (:id, :queue, :body, :now, :visible_at)`

	messageReceive = `
UPDATE "message" SET
    "receipt" = :receipt,
    "dequeue_count" = "dequeue_count" + 1,
    "visible_at" = :visible_at
WHERE "id" = (
    SELECT "id" FROM "message"
    WHERE "queue" = :queue AND "visible_at" <= :now
    ORDER BY "visible_at", "enqueued_at"
    LIMIT 1
)
RETURNING "id", "body", "dequeue_count", "enqueued_at", "visible_at"`

	messageExtend = `
UPDATE "message" SET
    "receipt" = :new_receipt,
    "visible_at" = :visible_at
WHERE "queue" = :queue AND "id" = :id AND "receipt" = :receipt
RETURNING "receipt"`

	messageDelete = `
DELETE FROM "message"
WHERE "queue" = :queue AND "id" = :id AND "receipt" = :receipt
RETURNING "id"`

	messagePurge = `
DELETE FROM "message"
WHERE "queue" = :queue AND "enqueued_at" < :before`

	messageStatus = `
SELECT "queue", CASE WHEN "visible_at" <= :now THEN 'visible' ELSE 'invisible' END AS "state", COUNT(*)
FROM "message"
GROUP BY 1, 2
ORDER BY 1, 2`

	lockAcquire = `
INSERT INTO "lock" ("name", "owner", "expires_at")
VALUES (:name, :owner, :expires_at)
ON CONFLICT ("name") DO UPDATE SET
    "owner" = excluded."owner",
    "expires_at" = excluded."expires_at"
WHERE "lock"."expires_at" <= :now
RETURNING "owner"`

	lockExtend = `
UPDATE "lock" SET "expires_at" = :expires_at
WHERE "name" = :name AND "owner" = :owner AND "expires_at" > :now
RETURNING "expires_at"`

	lockRelease = `
DELETE FROM "lock"
WHERE "name" = :name AND "owner" = :owner`

	lockGet = `
SELECT "expires_at" FROM "lock"
WHERE "name" = :name AND "expires_at" > :now`
)
