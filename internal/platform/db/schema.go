package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// schema: 冪等 (CREATE TABLE IF NOT EXISTS) なので何度流してもよい
var schema = []string{
	`CREATE TABLE IF NOT EXISTS auth_accounts (
	id            VARCHAR(64)  NOT NULL PRIMARY KEY,
	password_hash VARCHAR(255) NOT NULL,
	role          VARCHAR(16)  NOT NULL,
	is_approved   TINYINT(1)   NOT NULL DEFAULT 0,
	is_disabled   TINYINT(1)   NOT NULL DEFAULT 0,
	created_at    DATETIME(6)  NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS suppliers (
	id         BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
	name       VARCHAR(100) NOT NULL,
	contact_no VARCHAR(15)  NOT NULL DEFAULT '',
	email      VARCHAR(254) NOT NULL DEFAULT '',
	street     VARCHAR(255) NOT NULL DEFAULT '',
	city       VARCHAR(100) NOT NULL DEFAULT '',
	pincode    VARCHAR(10)  NOT NULL DEFAULT '',
	created_at DATETIME(6)  NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS equipment (
	id          BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
	name        VARCHAR(100) NOT NULL,
	category    VARCHAR(50)  NOT NULL DEFAULT '',
	location    VARCHAR(100) NOT NULL DEFAULT '',
	` + "`condition`" + ` VARCHAR(50) NOT NULL DEFAULT 'Good',
	quantity    INT          NOT NULL DEFAULT 0,
	description TEXT         NOT NULL,
	supplier_id BIGINT       NULL,
	added_on    DATE         NOT NULL,
	CONSTRAINT chk_equipment_quantity CHECK (quantity >= 0),
	KEY idx_equipment_name (name),
	KEY idx_equipment_supplier (supplier_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS equipment_requests (
	id           CHAR(26)     NOT NULL PRIMARY KEY,
	requester_id VARCHAR(64)  NOT NULL,
	equipment_id BIGINT       NOT NULL,
	quantity     INT          NOT NULL,
	purpose      TEXT         NOT NULL,
	status       VARCHAR(16)  NOT NULL,
	requested_at DATETIME(6)  NOT NULL,
	processed_at DATETIME(6)  NULL,
	processed_by VARCHAR(64)  NULL,
	note         TEXT         NULL,
	KEY idx_requests_status (status),
	KEY idx_requests_requester (requester_id),
	KEY idx_requests_equipment (equipment_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS usage_records (
	id               CHAR(26)      NOT NULL PRIMARY KEY,
	request_id       CHAR(26)      NULL,
	user_id          VARCHAR(64)   NOT NULL,
	equipment_id     BIGINT        NOT NULL,
	equipment_name   VARCHAR(100)  NOT NULL,
	quantity_used    INT           NOT NULL,
	purpose          TEXT          NOT NULL,
	borrowed_on      DATE          NOT NULL,
	due_date         DATE          NULL,
	returned_on      DATE          NULL,
	collected_by     VARCHAR(64)   NULL,
	collected_at     DATETIME(6)   NULL,
	approved_by      VARCHAR(64)   NULL,
	returned_to      VARCHAR(64)   NULL,
	is_damaged       TINYINT(1)    NOT NULL DEFAULT 0,
	damage_report    TEXT          NULL,
	penalty_amount   DECIMAL(10,2) NOT NULL DEFAULT 0,
	damage_processed TINYINT(1)    NOT NULL DEFAULT 0,
	UNIQUE KEY uq_usage_request (request_id),
	KEY idx_usage_user (user_id),
	KEY idx_usage_equipment (equipment_id),
	KEY idx_usage_open (returned_on, due_date)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS alerts (
	id             CHAR(26)     NOT NULL PRIMARY KEY,
	equipment_id   BIGINT       NOT NULL,
	equipment_name VARCHAR(100) NOT NULL,
	kind           VARCHAR(16)  NOT NULL,
	message        TEXT         NOT NULL,
	created_at     DATETIME(6)  NOT NULL,
	is_active      TINYINT(1)   NOT NULL DEFAULT 1,
	resolved_at    DATETIME(6)  NULL,
	resolved_by    VARCHAR(64)  NULL,
	resolution     VARCHAR(16)  NULL,
	KEY idx_alerts_active (equipment_id, kind, is_active)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS stock_movements (
	id           CHAR(26)    NOT NULL PRIMARY KEY,
	equipment_id BIGINT      NOT NULL,
	delta        INT         NOT NULL,
	before_qty   INT         NOT NULL,
	after_qty    INT         NOT NULL,
	reason       VARCHAR(32) NOT NULL,
	ref_kind     VARCHAR(16) NOT NULL,
	ref_id       VARCHAR(64) NOT NULL,
	actor_id     VARCHAR(64) NOT NULL,
	created_at   DATETIME(6) NOT NULL,
	KEY idx_movements_equipment (equipment_id, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate: テーブルを作成する（labyctl migrate から呼ぶ）
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema step %d: %w", i+1, err)
		}
	}
	log.Printf("[INFO] schema applied (%d tables)", len(schema))
	return nil
}
