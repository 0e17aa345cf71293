package guestlink

// Instance returns the client addressing the logical peer guid. The node's
// own guid returns the node itself; any other guid returns the root's
// cached child, created on first use.
func (c *Client) Instance(guid string) (*Client, error) {
	if guid == "" {
		return nil, usageError("the instance method expects an instance guid")
	}
	if guid == c.instanceGuid {
		return c, nil
	}
	if c.parent != nil {
		return c.parent.Instance(guid)
	}

	l := c.link
	l.childMu.Lock()
	if child, ok := l.children[guid]; ok {
		l.childMu.Unlock()
		return child, nil
	}
	child := newNode(l, c, Options{
		Origin:       c.origin,
		Source:       c.source,
		AppGuid:      c.appGuid,
		InstanceGuid: guid,
	})
	child.ready.Store(c.Ready())
	l.children[guid] = child
	l.childMu.Unlock()

	// Registering subscribes with the host, which writes to the channel.
	// childMu must be free by then or inbound routing stalls behind it.
	child.registerInternalHandlers()
	return child, nil
}

// adopt caches a child built directly with New. A guid that already names
// the root or a cached child is a usage error.
func (l *link) adopt(child *Client) error {
	l.childMu.Lock()
	defer l.childMu.Unlock()
	guid := child.instanceGuid
	if guid == l.root.instanceGuid {
		return usageError("instance %s is the root", guid)
	}
	if _, ok := l.children[guid]; ok {
		return usageError("instance %s already exists", guid)
	}
	l.children[guid] = child
	return nil
}

// recipient resolves the node an inbound event targets. An empty guid
// targets the root. It returns nil for unknown instances.
func (l *link) recipient(guid string) *Client {
	if guid == "" || guid == l.root.instanceGuid {
		return l.root
	}
	l.childMu.Lock()
	defer l.childMu.Unlock()
	return l.children[guid]
}
