package migration

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/config"
	"github.com/learnhub/rooms-service/internal/repository"
)

type DynamoDBMigrator struct {
	db     *dynamodb.DynamoDB
	config *config.DynamoDBConfig
	logger *zap.Logger
}

func NewDynamoDBMigrator(db *dynamodb.DynamoDB, cfg *config.DynamoDBConfig, logger *zap.Logger) *DynamoDBMigrator {
	return &DynamoDBMigrator{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// CreateTables creates every table the service uses, skipping those that
// already exist.
func (m *DynamoDBMigrator) CreateTables() error {
	for _, input := range []*dynamodb.CreateTableInput{
		m.roomsTable(),
		m.membersTable(),
		m.moderatorsTable(),
		m.messagesTable(),
		m.usersTable(),
	} {
		if err := m.createTable(input); err != nil {
			return err
		}
	}
	m.logger.Info("all DynamoDB tables ready")
	return nil
}

func (m *DynamoDBMigrator) roomsTable() *dynamodb.CreateTableInput {
	return simpleIDTable(m.config.RoomTable)
}

func (m *DynamoDBMigrator) usersTable() *dynamodb.CreateTableInput {
	return simpleIDTable(m.config.UserTable)
}

func (m *DynamoDBMigrator) membersTable() *dynamodb.CreateTableInput {
	return pairTable(m.config.MemberTable)
}

func (m *DynamoDBMigrator) moderatorsTable() *dynamodb.CreateTableInput {
	return pairTable(m.config.ModeratorTable)
}

func (m *DynamoDBMigrator) messagesTable() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(m.config.MessageTable),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: aws.String("HASH")},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("room_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("created_at"), AttributeType: aws.String("S")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(repository.MessageGSI),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String("room_id"), KeyType: aws.String("HASH")},
					{AttributeName: aws.String("created_at"), KeyType: aws.String("RANGE")},
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String("ALL"),
				},
			},
		},
	}
}

func simpleIDTable(name string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: aws.String("HASH")},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: aws.String("S")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}
}

// pairTable is keyed by (room_id, user_id), one row per pair.
func pairTable(name string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("room_id"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String("user_id"), KeyType: aws.String("RANGE")},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("room_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("user_id"), AttributeType: aws.String("S")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}
}

func (m *DynamoDBMigrator) createTable(input *dynamodb.CreateTableInput) error {
	tableName := aws.StringValue(input.TableName)

	_, err := m.db.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: input.TableName,
	})
	if err == nil {
		m.logger.Debug("table already exists", zap.String("table", tableName))
		return nil
	}

	m.logger.Info("creating table", zap.String("table", tableName))
	if _, err := m.db.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}
	return m.waitForTableActive(tableName)
}

func (m *DynamoDBMigrator) waitForTableActive(tableName string) error {
	maxRetries := 30
	retryInterval := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		resp, err := m.db.DescribeTable(&dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", tableName, err)
		}
		if aws.StringValue(resp.Table.TableStatus) == "ACTIVE" {
			return nil
		}
		m.logger.Debug("waiting for table",
			zap.String("table", tableName),
			zap.String("status", aws.StringValue(resp.Table.TableStatus)))
		time.Sleep(retryInterval)
	}
	return fmt.Errorf("table %s did not become active within timeout", tableName)
}

// DropTables deletes every table. Local development only.
func (m *DynamoDBMigrator) DropTables() error {
	tables := []string{
		m.config.RoomTable,
		m.config.MemberTable,
		m.config.ModeratorTable,
		m.config.MessageTable,
		m.config.UserTable,
	}
	for _, tableName := range tables {
		_, err := m.db.DeleteTable(&dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			m.logger.Warn("could not delete table (might not exist)",
				zap.String("table", tableName), zap.Error(err))
			continue
		}
		if err := m.db.WaitUntilTableNotExists(&dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		}); err != nil {
			m.logger.Warn("error waiting for table deletion",
				zap.String("table", tableName), zap.Error(err))
		}
	}
	return nil
}
