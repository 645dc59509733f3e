package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/config"
	"github.com/learnhub/rooms-service/internal/models"
)

// MessageGSI is the messages index keyed by (room_id, created_at).
const MessageGSI = "room-created-index"

type DynamoDBRepository interface {
	// CreateRoomWithCreator writes the room, the creator's membership and
	// the creator's moderator record in one transaction.
	CreateRoomWithCreator(ctx context.Context, room *models.Room, member *models.RoomMember, moderator *models.RoomModerator) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)

	// AddMember fails with ErrAlreadyMember when the (room, user) pair
	// already exists, including when a concurrent join wins the race.
	AddMember(ctx context.Context, member *models.RoomMember) error
	// RemoveMembership deletes the membership and any moderator record for
	// the pair in one transaction.
	RemoveMembership(ctx context.Context, roomID, userID string) error
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	ListMembers(ctx context.Context, roomID string) ([]*models.RoomMember, error)
	CountMembers(ctx context.Context, roomID string) (int, error)

	AddModerator(ctx context.Context, moderator *models.RoomModerator) error
	IsModerator(ctx context.Context, roomID, userID string) (bool, error)

	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error)

	CreateMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	MarkMessageDeleted(ctx context.Context, messageID string) error
	// ListMessages returns up to limit messages newest-first, strictly
	// older than the before message when given, skipping soft-deleted rows.
	ListMessages(ctx context.Context, roomID string, before *models.Message, limit int) ([]*models.Message, error)
}

type dynamoDBRepository struct {
	db             *dynamodb.DynamoDB
	roomTable      string
	memberTable    string
	moderatorTable string
	messageTable   string
	userTable      string
	logger         *zap.Logger
}

func NewDynamoDBRepository(db *dynamodb.DynamoDB, cfg config.DynamoDBConfig, logger *zap.Logger) DynamoDBRepository {
	return &dynamoDBRepository{
		db:             db,
		roomTable:      cfg.RoomTable,
		memberTable:    cfg.MemberTable,
		moderatorTable: cfg.ModeratorTable,
		messageTable:   cfg.MessageTable,
		userTable:      cfg.UserTable,
		logger:         logger,
	}
}

func (r *dynamoDBRepository) CreateRoomWithCreator(ctx context.Context, room *models.Room, member *models.RoomMember, moderator *models.RoomModerator) error {
	roomItem, err := dynamodbattribute.MarshalMap(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	memberItem, err := dynamodbattribute.MarshalMap(member)
	if err != nil {
		return fmt.Errorf("failed to marshal member: %w", err)
	}
	moderatorItem, err := dynamodbattribute.MarshalMap(moderator)
	if err != nil {
		return fmt.Errorf("failed to marshal moderator: %w", err)
	}

	_, err = r.db.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Put: &dynamodb.Put{TableName: aws.String(r.roomTable), Item: roomItem}},
			{Put: &dynamodb.Put{TableName: aws.String(r.memberTable), Item: memberItem}},
			{Put: &dynamodb.Put{TableName: aws.String(r.moderatorTable), Item: moderatorItem}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create room transaction: %w", err)
	}
	return nil
}

func (r *dynamoDBRepository) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	result, err := r.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.roomTable),
		Key:       idKey(roomID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if result.Item == nil {
		return nil, ErrRoomNotFound
	}

	var room models.Room
	if err := dynamodbattribute.UnmarshalMap(result.Item, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *dynamoDBRepository) ListRooms(ctx context.Context) ([]*models.Room, error) {
	var rooms []*models.Room

	input := &dynamodb.ScanInput{TableName: aws.String(r.roomTable)}
	for {
		result, err := r.db.ScanWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rooms: %w", err)
		}
		for _, item := range result.Items {
			var room models.Room
			if err := dynamodbattribute.UnmarshalMap(item, &room); err != nil {
				r.logger.Warn("skipping unreadable room item", zap.Error(err))
				continue
			}
			rooms = append(rooms, &room)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (r *dynamoDBRepository) AddMember(ctx context.Context, member *models.RoomMember) error {
	item, err := dynamodbattribute.MarshalMap(member)
	if err != nil {
		return fmt.Errorf("failed to marshal member: %w", err)
	}

	_, err = r.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.memberTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(room_id)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (r *dynamoDBRepository) RemoveMembership(ctx context.Context, roomID, userID string) error {
	key := pairKey(roomID, userID)
	_, err := r.db.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Delete: &dynamodb.Delete{TableName: aws.String(r.memberTable), Key: key}},
			{Delete: &dynamodb.Delete{TableName: aws.String(r.moderatorTable), Key: pairKey(roomID, userID)}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to remove membership transaction: %w", err)
	}
	return nil
}

func (r *dynamoDBRepository) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return r.pairExists(ctx, r.memberTable, roomID, userID)
}

func (r *dynamoDBRepository) ListMembers(ctx context.Context, roomID string) ([]*models.RoomMember, error) {
	keyCond := expression.Key("room_id").Equal(expression.Value(roomID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	var members []*models.RoomMember
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.memberTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	for {
		result, err := r.db.QueryWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query members: %w", err)
		}
		for _, item := range result.Items {
			var member models.RoomMember
			if err := dynamodbattribute.UnmarshalMap(item, &member); err != nil {
				r.logger.Warn("skipping unreadable member item", zap.Error(err))
				continue
			}
			members = append(members, &member)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	// The table's range key is user_id; join order is an attribute.
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (r *dynamoDBRepository) CountMembers(ctx context.Context, roomID string) (int, error) {
	keyCond := expression.Key("room_id").Equal(expression.Value(roomID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build key condition: %w", err)
	}

	result, err := r.db.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.memberTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select:                    aws.String(dynamodb.SelectCount),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return int(aws.Int64Value(result.Count)), nil
}

func (r *dynamoDBRepository) AddModerator(ctx context.Context, moderator *models.RoomModerator) error {
	item, err := dynamodbattribute.MarshalMap(moderator)
	if err != nil {
		return fmt.Errorf("failed to marshal moderator: %w", err)
	}

	_, err = r.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.moderatorTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(room_id)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrAlreadyModerator
		}
		return fmt.Errorf("failed to add moderator: %w", err)
	}
	return nil
}

func (r *dynamoDBRepository) IsModerator(ctx context.Context, roomID, userID string) (bool, error) {
	return r.pairExists(ctx, r.moderatorTable, roomID, userID)
}

func (r *dynamoDBRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	result, err := r.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.userTable),
		Key:       idKey(userID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if result.Item == nil {
		return nil, ErrUserNotFound
	}

	var user models.User
	if err := dynamodbattribute.UnmarshalMap(result.Item, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

func (r *dynamoDBRepository) GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error) {
	users := make(map[string]*models.User, len(userIDs))
	if len(userIDs) == 0 {
		return users, nil
	}

	// BatchGetItem accepts at most 100 keys per request.
	const batchSize = 100
	for start := 0; start < len(userIDs); start += batchSize {
		end := start + batchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}

		keys := make([]map[string]*dynamodb.AttributeValue, 0, end-start)
		for _, id := range userIDs[start:end] {
			keys = append(keys, idKey(id))
		}

		request := map[string]*dynamodb.KeysAndAttributes{
			r.userTable: {Keys: keys},
		}
		for len(request) > 0 {
			result, err := r.db.BatchGetItemWithContext(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: request,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to batch get users: %w", err)
			}
			for _, item := range result.Responses[r.userTable] {
				var user models.User
				if err := dynamodbattribute.UnmarshalMap(item, &user); err != nil {
					r.logger.Warn("skipping unreadable user item", zap.Error(err))
					continue
				}
				users[user.ID] = &user
			}
			request = nil
			if len(result.UnprocessedKeys) > 0 {
				request = result.UnprocessedKeys
			}
		}
	}
	return users, nil
}

func (r *dynamoDBRepository) CreateMessage(ctx context.Context, message *models.Message) error {
	item, err := dynamodbattribute.MarshalMap(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = r.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.messageTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put message item: %w", err)
	}
	return nil
}

func (r *dynamoDBRepository) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	result, err := r.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.messageTable),
		Key:       idKey(messageID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if result.Item == nil {
		return nil, ErrMessageNotFound
	}

	var message models.Message
	if err := dynamodbattribute.UnmarshalMap(result.Item, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &message, nil
}

func (r *dynamoDBRepository) MarkMessageDeleted(ctx context.Context, messageID string) error {
	update := expression.Set(expression.Name("is_deleted"), expression.Value(true))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build update expression: %w", err)
	}

	_, err = r.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.messageTable),
		Key:                       idKey(messageID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConditionExpression:       aws.String("attribute_exists(id)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("failed to mark message deleted: %w", err)
	}
	return nil
}

func (r *dynamoDBRepository) ListMessages(ctx context.Context, roomID string, before *models.Message, limit int) ([]*models.Message, error) {
	keyCond := expression.Key("room_id").Equal(expression.Value(roomID))
	if before != nil {
		keyCond = expression.KeyAnd(keyCond,
			expression.Key("created_at").LessThan(expression.Value(before.CreatedAt)))
	}
	filter := expression.Name("is_deleted").Equal(expression.Value(false))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	var messages []*models.Message
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.messageTable),
		IndexName:                 aws.String(MessageGSI),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int64(int64(limit)),
	}
	// The filter is applied after the page limit, so keep paging until the
	// requested number of live messages is collected.
	for {
		result, err := r.db.QueryWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query messages: %w", err)
		}
		for _, item := range result.Items {
			var message models.Message
			if err := dynamodbattribute.UnmarshalMap(item, &message); err != nil {
				r.logger.Warn("skipping unreadable message item", zap.Error(err))
				continue
			}
			if before != nil && message.ID == before.ID {
				continue
			}
			messages = append(messages, &message)
			if len(messages) == limit {
				return messages, nil
			}
		}
		if result.LastEvaluatedKey == nil {
			return messages, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func (r *dynamoDBRepository) pairExists(ctx context.Context, table, roomID, userID string) (bool, error) {
	result, err := r.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       pairKey(roomID, userID),
	})
	if err != nil {
		return false, fmt.Errorf("failed to get item from %s: %w", table, err)
	}
	return result.Item != nil, nil
}

func idKey(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"id": {S: aws.String(id)},
	}
}

func pairKey(roomID, userID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"room_id": {S: aws.String(roomID)},
		"user_id": {S: aws.String(userID)},
	}
}

func isConditionalCheckFailed(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
	}
	return false
}
