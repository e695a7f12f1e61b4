package database

import (
	"fmt"

	"github.com/apex/log"
)

// InitSchema creates all tables if they don't exist and applies pending
// column migrations.
func (d *Database) InitSchema() error {
	if err := d.createUsersTable(); err != nil {
		return err
	}
	if err := d.createItemReportsTable(); err != nil {
		return err
	}
	if err := d.createChatsTable(); err != nil {
		return err
	}
	if err := d.createChatMessagesTable(); err != nil {
		return err
	}
	if err := d.migrateItemReportsTable(); err != nil {
		return err
	}
	return nil
}

func (d *Database) createUsersTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := d.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	log.Info("users table created/verified successfully")
	return nil
}

func (d *Database) createItemReportsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS item_reports (
		id VARCHAR(36) PRIMARY KEY,
		reporter_id VARCHAR(36) NOT NULL,
		type ENUM('LOST', 'FOUND') NOT NULL,
		status ENUM('OPEN', 'RESOLVED') NOT NULL DEFAULT 'OPEN',
		category VARCHAR(64) NOT NULL,
		title VARCHAR(500) NOT NULL,
		description TEXT,
		tags TEXT,
		location VARCHAR(500) DEFAULT '',
		date_text VARCHAR(100) DEFAULT '',
		time_text VARCHAR(100) DEFAULT '',
		image_urls TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_item_reports_reporter (reporter_id),
		INDEX idx_item_reports_type_status (type, status),
		INDEX idx_item_reports_category (category)
	)`

	_, err := d.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create item_reports table: %w", err)
	}

	log.Info("item_reports table created/verified successfully")
	return nil
}

func (d *Database) createChatsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS chats (
		id VARCHAR(36) PRIMARY KEY,
		type ENUM('DIRECT', 'GLOBAL') NOT NULL DEFAULT 'DIRECT',
		participant_a VARCHAR(36) NOT NULL,
		participant_b VARCHAR(36) NOT NULL,
		pair_key VARCHAR(80) NOT NULL,
		messages_json LONGTEXT,
		unread_count INT NOT NULL DEFAULT 0,
		last_sender_id VARCHAR(36) NOT NULL DEFAULT '',
		last_message VARCHAR(1000) NOT NULL DEFAULT '',
		last_message_time DATETIME(3) NULL,
		is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		blocked_by VARCHAR(36) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_chats_pair (pair_key),
		INDEX idx_chats_participant_a (participant_a),
		INDEX idx_chats_participant_b (participant_b)
	)`

	_, err := d.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create chats table: %w", err)
	}

	log.Info("chats table created/verified successfully")
	return nil
}

func (d *Database) createChatMessagesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id VARCHAR(36) PRIMARY KEY,
		chat_id VARCHAR(36) NOT NULL,
		sender_id VARCHAR(36) NOT NULL,
		sender_name VARCHAR(255) NOT NULL DEFAULT '',
		text TEXT,
		attachment_type VARCHAR(16) NOT NULL DEFAULT '',
		attachment_url TEXT,
		timestamp DATETIME(3) NOT NULL,
		status ENUM('SENT', 'READ') NOT NULL DEFAULT 'SENT',
		INDEX idx_chat_messages_chat_time (chat_id, timestamp),
		INDEX idx_chat_messages_chat_status (chat_id, status)
	)`

	_, err := d.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create chat_messages table: %w", err)
	}

	log.Info("chat_messages table created/verified successfully")
	return nil
}

func (d *Database) migrateItemReportsTable() error {
	// Check and add is_flagged column
	exists, err := d.columnExists("item_reports", "is_flagged")
	if err != nil {
		return fmt.Errorf("failed to check if is_flagged column exists: %w", err)
	}

	if !exists {
		log.Info("adding is_flagged column to item_reports table...")
		query := "ALTER TABLE item_reports ADD COLUMN is_flagged BOOLEAN NOT NULL DEFAULT FALSE"
		_, err = d.db.Exec(query)
		if err != nil {
			return fmt.Errorf("failed to add is_flagged column: %w", err)
		}
		log.Info("successfully added is_flagged column to item_reports table")
	} else {
		log.Info("is_flagged column already exists in item_reports table, skipping migration")
	}

	// Check and add status index
	exists, err = d.indexExists("item_reports", "idx_item_reports_status")
	if err != nil {
		return fmt.Errorf("failed to check if idx_item_reports_status index exists: %w", err)
	}

	if !exists {
		log.Info("adding idx_item_reports_status index to item_reports table...")
		query := "ALTER TABLE item_reports ADD INDEX idx_item_reports_status (status)"
		_, err = d.db.Exec(query)
		if err != nil {
			return fmt.Errorf("failed to add idx_item_reports_status index: %w", err)
		}
		log.Info("successfully added idx_item_reports_status index to item_reports table")
	} else {
		log.Info("idx_item_reports_status index already exists in item_reports table, skipping migration")
	}

	return nil
}
