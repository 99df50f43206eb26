package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"concierge-agent/internal/domain"
)

// dynamodbAPI is the minimal DynamoDB interface required by Repository.
// Defined here for testability; *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Repository moves message documents in and out of one DynamoDB table. It is
// stateless with respect to conversations: partition keys isolate them, so a
// single Repository is safely shared by every provider in the process.
type Repository struct {
	api          dynamodbAPI
	tableName    string
	caps         Capabilities
	maxBatchSize int
	maxPageSize  int
}

// documentKey identifies one stored document for deletion.
type documentKey struct {
	PK string
	SK string
}

// NewRepository creates a Repository over the given table.
func NewRepository(api dynamodbAPI, tableName string, opts Options) (*Repository, error) {
	if api == nil {
		return nil, errors.New("history: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("history: table name must not be empty")
	}
	opts = opts.normalize()
	return &Repository{
		api:          api,
		tableName:    tableName,
		caps:         opts.Capabilities,
		maxBatchSize: opts.MaxBatchSize,
		maxPageSize:  opts.MaxPageSize,
	}, nil
}

// WriteDocuments persists docs in input order and returns the total consumed
// capacity across all sub-operations. Every document must carry the same
// partition key; the check runs before anything is submitted so a mixed input
// fails fast rather than mid-batch. An empty input is a no-op at zero cost.
//
// A canceled or partially failed call leaves previously committed batches
// committed; there is no rollback.
func (r *Repository) WriteDocuments(ctx context.Context, docs []domain.MessageDocument) (float64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	pk := docs[0].PK
	for _, d := range docs[1:] {
		if d.PK != pk {
			return 0, ErrMixedPartitions
		}
	}
	if r.caps.DisableTransactions {
		return r.writeSequential(ctx, docs)
	}
	return r.writeTransacted(ctx, docs)
}

func (r *Repository) writeSequential(ctx context.Context, docs []domain.MessageDocument) (float64, error) {
	var cost float64
	for i := range docs {
		c, err := r.PutDocument(ctx, docs[i])
		cost += c
		if err != nil {
			return cost, err
		}
	}
	return cost, nil
}

// writeTransacted submits chunks of at most maxBatchSize documents as atomic
// transactions. The backend enforces a byte-size ceiling independent of the
// item count, so a rejected chunk is split in half and both halves retried;
// an explicit work stack keeps the splitting iterative. Pushing the second
// half before the first keeps documents landing in input order. A rejected
// one-document chunk falls back to a plain create, where a further size
// rejection means the item itself is oversized.
func (r *Repository) writeTransacted(ctx context.Context, docs []domain.MessageDocument) (float64, error) {
	stack := make([][]domain.MessageDocument, 0, (len(docs)+r.maxBatchSize-1)/r.maxBatchSize)
	for end := len(docs); end > 0; {
		start := end - r.maxBatchSize
		if start < 0 {
			start = 0
		}
		stack = append(stack, docs[start:end])
		end = start
	}

	var cost float64
	for len(stack) > 0 {
		chunk := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		c, err := r.transactPut(ctx, chunk)
		cost += c
		if err == nil {
			continue
		}
		if !isSizeRejection(err) {
			return cost, err
		}
		if len(chunk) == 1 {
			c, putErr := r.PutDocument(ctx, chunk[0])
			cost += c
			if putErr != nil {
				return cost, putErr
			}
			continue
		}
		mid := len(chunk) / 2
		stack = append(stack, chunk[mid:], chunk[:mid])
	}
	return cost, nil
}

func (r *Repository) transactPut(ctx context.Context, docs []domain.MessageDocument) (float64, error) {
	items := make([]types.TransactWriteItem, 0, len(docs))
	for i := range docs {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(r.tableName),
				Item:      documentItem(docs[i]),
			},
		})
	}
	out, err := r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:          items,
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	cost := transactCost(out)
	if err != nil {
		if isSizeRejection(err) {
			// Recovered by the caller's splitting loop.
			return cost, err
		}
		return cost, &BatchRejectedError{Partition: docs[0].PK, Size: len(docs), Err: err}
	}
	return cost, nil
}

// PutDocument creates a single document as an independent atomic create. The
// create-only condition guards against sort-key collisions ever silently
// overwriting history. A size rejection surfaces as *OversizedItemError.
func (r *Repository) PutDocument(ctx context.Context, doc domain.MessageDocument) (float64, error) {
	out, err := r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:              aws.String(r.tableName),
		Item:                   documentItem(doc),
		ConditionExpression:    aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	var cost float64
	if out != nil {
		cost = capacityOf(out.ConsumedCapacity)
	}
	if err != nil {
		if isSizeRejection(err) {
			return cost, &OversizedItemError{DocumentID: doc.ID, Partition: doc.PK, Err: err}
		}
		return cost, fmt.Errorf("history: put document %s: %w", doc.ID, err)
	}
	return cost, nil
}

// QueryDocuments returns the conversation's chat-message documents
// oldest-first along with the summed read cost. A zero limit pages ascending
// until exhausted. A positive limit reads newest-first, short-circuits once
// limit documents are collected and reverses before returning, so "last K
// messages" stays cheap while callers still consume chronological order.
// Every fetched page contributes its cost even when only partially consumed.
// Any page error aborts the whole read; no partial result is returned.
func (r *Repository) QueryDocuments(ctx context.Context, partition, conversationID string, limit int) ([]domain.MessageDocument, float64, error) {
	forward := limit <= 0

	var (
		docs     []domain.MessageDocument
		cost     float64
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := r.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			FilterExpression:       aws.String("documentType = :dt AND conversationId = :conv"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: partition},
				":prefix": &types.AttributeValueMemberS{Value: skMsgPrefix},
				":dt":     &types.AttributeValueMemberS{Value: domain.DocTypeChatMessage},
				":conv":   &types.AttributeValueMemberS{Value: conversationID},
			},
			ScanIndexForward:       aws.Bool(forward),
			Limit:                  aws.Int32(int32(r.maxPageSize)),
			ExclusiveStartKey:      startKey,
			ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
		})
		if out != nil {
			cost += capacityOf(out.ConsumedCapacity)
		}
		if err != nil {
			return nil, cost, fmt.Errorf("history: query conversation %s: %w", conversationID, err)
		}
		for _, item := range out.Items {
			doc, convErr := itemToDocument(item)
			if convErr != nil {
				return nil, cost, fmt.Errorf("history: query conversation %s: %w", conversationID, convErr)
			}
			docs = append(docs, doc)
			if limit > 0 && len(docs) == limit {
				break
			}
		}
		if limit > 0 && len(docs) == limit {
			break
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	if limit > 0 {
		// Collected newest-first; restore chronological order.
		for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
			docs[i], docs[j] = docs[j], docs[i]
		}
	}
	return docs, cost, nil
}

// CountDocuments reports how many chat-message documents the conversation
// holds. It issues COUNT queries unless the capability descriptor disables
// them, in which case it pages keys and counts.
func (r *Repository) CountDocuments(ctx context.Context, partition, conversationID string) (int, float64, error) {
	if r.caps.DisableCountQuery {
		keys, cost, err := r.queryKeys(ctx, partition, conversationID)
		return len(keys), cost, err
	}

	var (
		count    int
		cost     float64
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := r.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			FilterExpression:       aws.String("documentType = :dt AND conversationId = :conv"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: partition},
				":prefix": &types.AttributeValueMemberS{Value: skMsgPrefix},
				":dt":     &types.AttributeValueMemberS{Value: domain.DocTypeChatMessage},
				":conv":   &types.AttributeValueMemberS{Value: conversationID},
			},
			Select:                 types.SelectCount,
			ExclusiveStartKey:      startKey,
			ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
		})
		if out != nil {
			cost += capacityOf(out.ConsumedCapacity)
		}
		if err != nil {
			return 0, cost, fmt.Errorf("history: count conversation %s: %w", conversationID, err)
		}
		count += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return count, cost, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// DeleteConversation removes every chat-message document of the conversation
// and returns how many were deleted plus the consumed capacity. Keys are
// enumerated through a projection query first; deletion never scans full
// documents. Deletes run in atomic chunks, or sequentially when the
// capability descriptor disables transactions.
func (r *Repository) DeleteConversation(ctx context.Context, partition, conversationID string) (int, float64, error) {
	keys, cost, err := r.queryKeys(ctx, partition, conversationID)
	if err != nil {
		return 0, cost, err
	}
	if len(keys) == 0 {
		return 0, cost, nil
	}

	if r.caps.DisableTransactions {
		for _, key := range keys {
			out, delErr := r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:              aws.String(r.tableName),
				Key:                    keyItem(key),
				ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
			})
			if out != nil {
				cost += capacityOf(out.ConsumedCapacity)
			}
			if delErr != nil {
				return 0, cost, fmt.Errorf("history: delete conversation %s: %w", conversationID, delErr)
			}
		}
		return len(keys), cost, nil
	}

	for start := 0; start < len(keys); start += r.maxBatchSize {
		end := start + r.maxBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		items := make([]types.TransactWriteItem, 0, len(chunk))
		for _, key := range chunk {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(r.tableName),
					Key:       keyItem(key),
				},
			})
		}
		out, txErr := r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems:          items,
			ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
		})
		cost += transactCost(out)
		if txErr != nil {
			return 0, cost, &BatchRejectedError{Partition: partition, Size: len(chunk), Err: txErr}
		}
	}
	return len(keys), cost, nil
}

// queryKeys enumerates the key attributes of a conversation's chat-message
// documents via a projection query.
func (r *Repository) queryKeys(ctx context.Context, partition, conversationID string) ([]documentKey, float64, error) {
	var (
		keys     []documentKey
		cost     float64
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := r.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			FilterExpression:       aws.String("documentType = :dt AND conversationId = :conv"),
			ProjectionExpression:   aws.String("PK, SK"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: partition},
				":prefix": &types.AttributeValueMemberS{Value: skMsgPrefix},
				":dt":     &types.AttributeValueMemberS{Value: domain.DocTypeChatMessage},
				":conv":   &types.AttributeValueMemberS{Value: conversationID},
			},
			Limit:                  aws.Int32(int32(r.maxPageSize)),
			ExclusiveStartKey:      startKey,
			ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
		})
		if out != nil {
			cost += capacityOf(out.ConsumedCapacity)
		}
		if err != nil {
			return nil, cost, fmt.Errorf("history: enumerate conversation %s: %w", conversationID, err)
		}
		for _, item := range out.Items {
			pk, pkErr := strAttr(item, "PK")
			if pkErr != nil {
				return nil, cost, pkErr
			}
			sk, skErr := strAttr(item, "SK")
			if skErr != nil {
				return nil, cost, skErr
			}
			keys = append(keys, documentKey{PK: pk, SK: sk})
		}
		if len(out.LastEvaluatedKey) == 0 {
			return keys, cost, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func keyItem(key documentKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key.PK},
		"SK": &types.AttributeValueMemberS{Value: key.SK},
	}
}

func capacityOf(cc *types.ConsumedCapacity) float64 {
	if cc == nil || cc.CapacityUnits == nil {
		return 0
	}
	return *cc.CapacityUnits
}

func transactCost(out *dynamodb.TransactWriteItemsOutput) float64 {
	if out == nil {
		return 0
	}
	var cost float64
	for i := range out.ConsumedCapacity {
		cost += capacityOf(&out.ConsumedCapacity[i])
	}
	return cost
}
