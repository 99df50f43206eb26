package history

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// fakeDynamo is an in-memory stand-in for DynamoDB with configurable size
// budgets, so batch-splitting and oversized-item behavior can be exercised
// without a real backend.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue

	// txByteLimit rejects a whole transaction whose serialized size exceeds
	// it; itemByteLimit rejects any single item. Zero disables a limit.
	txByteLimit   int
	itemByteLimit int

	putErr    error
	queryErr  error
	deleteErr error
	txErr     error

	putCalls    int
	txCalls     int
	queryCalls  int
	deleteCalls int

	lastQuerySelect types.Select
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]map[string]types.AttributeValue{}}
}

func sizeError(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

func itemSize(item map[string]types.AttributeValue) int {
	n := 0
	for k, v := range item {
		n += len(k)
		switch m := v.(type) {
		case *types.AttributeValueMemberS:
			n += len(m.Value)
		case *types.AttributeValueMemberN:
			n += len(m.Value)
		}
	}
	return n
}

func (f *fakeDynamo) store(item map[string]types.AttributeValue) {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	if f.items[pk] == nil {
		f.items[pk] = map[string]map[string]types.AttributeValue{}
	}
	f.items[pk][sk] = item
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return nil, f.putErr
	}
	if f.itemByteLimit > 0 && itemSize(in.Item) > f.itemByteLimit {
		return nil, sizeError("Item size has exceeded the maximum allowed size")
	}
	f.store(in.Item)
	return &dynamodb.PutItemOutput{
		ConsumedCapacity: &types.ConsumedCapacity{CapacityUnits: aws.Float64(1)},
	}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if f.txErr != nil {
		return nil, f.txErr
	}
	total := 0
	for _, item := range in.TransactItems {
		if item.Put != nil {
			size := itemSize(item.Put.Item)
			if f.itemByteLimit > 0 && size > f.itemByteLimit {
				return nil, sizeError("Item size has exceeded the maximum allowed size")
			}
			total += size
		}
	}
	if f.txByteLimit > 0 && total > f.txByteLimit {
		return nil, sizeError("Transaction request cannot exceed the maximum allowed size")
	}
	for _, item := range in.TransactItems {
		switch {
		case item.Put != nil:
			f.store(item.Put.Item)
		case item.Delete != nil:
			pk := item.Delete.Key["PK"].(*types.AttributeValueMemberS).Value
			sk := item.Delete.Key["SK"].(*types.AttributeValueMemberS).Value
			delete(f.items[pk], sk)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{
		ConsumedCapacity: []types.ConsumedCapacity{
			{CapacityUnits: aws.Float64(2 * float64(len(in.TransactItems)))},
		},
	}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	sk := in.Key["SK"].(*types.AttributeValueMemberS).Value
	delete(f.items[pk], sk)
	return &dynamodb.DeleteItemOutput{
		ConsumedCapacity: &types.ConsumedCapacity{CapacityUnits: aws.Float64(1)},
	}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	f.lastQuerySelect = in.Select
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value

	sks := make([]string, 0, len(f.items[pk]))
	for sk := range f.items[pk] {
		if strings.HasPrefix(sk, prefix) {
			sks = append(sks, sk)
		}
	}
	sort.Strings(sks)
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	if !forward {
		for i, j := 0, len(sks)-1; i < j; i, j = i+1, j-1 {
			sks[i], sks[j] = sks[j], sks[i]
		}
	}

	if len(in.ExclusiveStartKey) > 0 {
		startSK := in.ExclusiveStartKey["SK"].(*types.AttributeValueMemberS).Value
		cut := len(sks)
		for i, sk := range sks {
			if sk == startSK {
				cut = i + 1
				break
			}
		}
		sks = sks[cut:]
	}

	limit := len(sks)
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	page := sks[:limit]

	matches := make([]map[string]types.AttributeValue, 0, len(page))
	for _, sk := range page {
		item := f.items[pk][sk]
		if !f.matchesFilter(item, in) {
			continue
		}
		matches = append(matches, item)
	}

	out := &dynamodb.QueryOutput{
		Count:            int32(len(matches)),
		ConsumedCapacity: &types.ConsumedCapacity{CapacityUnits: aws.Float64(1)},
	}
	if in.Select != types.SelectCount {
		out.Items = matches
	}
	if limit < len(sks) {
		last := page[len(page)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: last},
		}
	}
	return out, nil
}

func (f *fakeDynamo) matchesFilter(item map[string]types.AttributeValue, in *dynamodb.QueryInput) bool {
	if in.FilterExpression == nil {
		return true
	}
	if want, ok := in.ExpressionAttributeValues[":dt"].(*types.AttributeValueMemberS); ok {
		got, _ := item["documentType"].(*types.AttributeValueMemberS)
		if got == nil || got.Value != want.Value {
			return false
		}
	}
	if want, ok := in.ExpressionAttributeValues[":conv"].(*types.AttributeValueMemberS); ok {
		got, _ := item["conversationId"].(*types.AttributeValueMemberS)
		if got == nil || got.Value != want.Value {
			return false
		}
	}
	return true
}

// docsFor returns the stored documents for a conversation id, across all
// partitions, sorted by SK.
func (f *fakeDynamo) docsFor(conversationID string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	type entry struct {
		sk   string
		item map[string]types.AttributeValue
	}
	var entries []entry
	for _, partition := range f.items {
		for sk, item := range partition {
			conv, _ := item["conversationId"].(*types.AttributeValueMemberS)
			if conv != nil && conv.Value == conversationID {
				entries = append(entries, entry{sk: sk, item: item})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].sk < entries[j].sk })
	docs := make([]map[string]types.AttributeValue, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e.item)
	}
	return docs
}

// conversationIDs returns every distinct conversationId present in the store.
func (f *fakeDynamo) conversationIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	for _, partition := range f.items {
		for _, item := range partition {
			if conv, ok := item["conversationId"].(*types.AttributeValueMemberS); ok {
				seen[conv.Value] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
